package domain

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Hub represents one access-aggregation device (OLT) under management.
// The address is the identity; everything cached for a hub hangs off it.
type Hub struct {
	// Address is the management IP, unique across the fleet
	Address string `json:"address"`

	// Name is the operator-facing display name
	Name string `json:"name"`

	// Community is the SNMP community string. It is stored sealed at rest
	// and never serialized in API responses.
	Community string `json:"-"`

	// Vendor tags the device family (e.g. "bdcom")
	Vendor string `json:"vendor"`

	// LastRefreshAt is the time of the last successful reconciliation,
	// nil if the hub has never been refreshed
	LastRefreshAt *time.Time `json:"last_refresh_at,omitempty"`
}

// Validate checks that a hub is well-formed enough to store
func (h *Hub) Validate() error {
	if h.Address == "" {
		return fmt.Errorf("hub address is required")
	}
	if net.ParseIP(h.Address) == nil {
		return fmt.Errorf("hub address %q is not a valid IP", h.Address)
	}
	if h.Name == "" {
		return fmt.Errorf("hub name is required")
	}
	if h.Vendor == "" {
		h.Vendor = "bdcom"
	}
	h.Vendor = strings.ToLower(h.Vendor)
	return nil
}

// Port is one physical or logical interface reported by a hub.
// The port set for a hub is fully replaced on every reconciliation.
type Port struct {
	HubAddress string `json:"hub_address"`
	IfIndex    int    `json:"ifindex"`
	Name       string `json:"name"`
}

// SlotKey addresses one endpoint slot on a hub's port
type SlotKey struct {
	PortIndex int `json:"port_index"`
	SlotID    int `json:"slot_id"`
}

// Binding records that an endpoint currently occupies a slot on a hub.
// At most one binding exists system-wide per serial; the hub that most
// recently reported the serial owns the binding.
type Binding struct {
	HubAddress string `json:"hub_address"`
	PortIndex  int    `json:"port_index"`
	SlotID     int    `json:"slot_id"`
	Serial     string `json:"serial"`
}

// Key returns the slot coordinate of the binding on its hub
func (b Binding) Key() SlotKey {
	return SlotKey{PortIndex: b.PortIndex, SlotID: b.SlotID}
}
