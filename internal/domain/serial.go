package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrBadSerial marks an identity token that cannot be reduced to a
// canonical 16-hex serial
var ErrBadSerial = errors.New("malformed endpoint serial")

var (
	hex16Re     = regexp.MustCompile(`^[0-9A-Fa-f]{16}$`)
	shortFormRe = regexp.MustCompile(`^([A-Za-z]{4})[:\-]([0-9A-Fa-f]{8})$`)
	nonHexRe    = regexp.MustCompile(`[^0-9A-Fa-f]`)
)

// CanonicalSerial reduces a raw identity token to the canonical
// 16-hex-character uppercase serial. Hubs report serials in several
// encodings; recognition order, first match wins:
//
//  1. already exactly 16 hex characters
//  2. short form "VVVV:XXXXXXXX" (4-letter vendor tag + 8 hex), expanded
//     by encoding each vendor letter as its two-digit ASCII hex code,
//     e.g. "BDCM:B12A632B" -> "4244434DB12A632B"
//  3. strip every non-hex character and keep the last 16
//
// Anything with fewer than 16 usable hex characters is malformed.
func CanonicalSerial(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrBadSerial
	}

	if hex16Re.MatchString(raw) {
		return strings.ToUpper(raw), nil
	}

	if m := shortFormRe.FindStringSubmatch(raw); m != nil {
		return vendorTagToHex(m[1]) + strings.ToUpper(m[2]), nil
	}

	cleaned := strings.ToUpper(nonHexRe.ReplaceAllString(raw, ""))
	if len(cleaned) >= 16 {
		return cleaned[len(cleaned)-16:], nil
	}

	return "", fmt.Errorf("%w: %q", ErrBadSerial, raw)
}

// vendorTagToHex encodes a 4-letter vendor tag as its 8-hex ASCII form,
// "BDCM" -> "4244434D"
func vendorTagToHex(tag string) string {
	tag = strings.ToUpper(tag)
	var b strings.Builder
	for i := 0; i < 4 && i < len(tag); i++ {
		fmt.Fprintf(&b, "%02X", tag[i])
	}
	return b.String()
}
