// Package handler exposes the inventory API over HTTP. Routes use the
// Go 1.22 mux method patterns; responses are JSON with a uniform error
// envelope.
package handler
