// Package domain defines the core types of the hub/endpoint inventory:
// hubs (OLT aggregation devices), their PON ports, the binding of an
// endpoint serial to a (hub, port, slot), sighting history per serial,
// and the recent-discovery feed.
package domain
