package domain

import "time"

// Endpoint status codes as reported by the hub's status table
// (gponOnuOperStatus). 3 is the only "confirmed online" value.
const (
	StatusOffline = 0
	StatusOnline  = 3
)

// Sighting is the identity-keyed history for one endpoint serial.
// Rows are upserted whenever the serial appears in any hub's binding
// table and are never deleted by normal operation.
type Sighting struct {
	Serial     string     `json:"serial"`
	FirstSeen  time.Time  `json:"first_seen"`
	LastSeen   time.Time  `json:"last_seen"`
	LastOnline *time.Time `json:"last_online,omitempty"`
	Status     int        `json:"status"`
}

// Online reports whether the last known status marks the endpoint online
func (s *Sighting) Online() bool {
	return s.Status == StatusOnline
}

// Discovery is one entry of the capped recent-discovery feed: a serial
// that had no prior sighting anywhere when a reconciliation found it.
type Discovery struct {
	ID           int64     `json:"id"`
	Serial       string    `json:"serial"`
	DiscoveredAt time.Time `json:"discovered_at"`
	HubAddress   string    `json:"hub_address"`
	PortIndex    int       `json:"port_index"`
	SlotID       int       `json:"slot_id"`
}

// DiscoveryLogCap bounds the recent_discoveries table; older rows are
// evicted once the cap is exceeded.
const DiscoveryLogCap = 50

// offlineReasons maps the hub's last-deregister code to a label
var offlineReasons = map[int]string{
	0:  "none",
	1:  "dying-gasp",
	2:  "laser-always-on",
	3:  "admin-down",
	4:  "omcc-down",
	5:  "unknown",
	6:  "pon-los",
	7:  "lcdg",
	8:  "wire-down",
	9:  "omci-mismatch",
	10: "password-mismatch",
	11: "reboot",
	12: "ranging-failed",
}

// OfflineReason renders a last-down reason code as text
func OfflineReason(code int) string {
	if r, ok := offlineReasons[code]; ok {
		return r
	}
	return "unknown"
}
