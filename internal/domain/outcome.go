package domain

import "time"

// RefreshCounts summarizes the row changes one reconciliation applied
type RefreshCounts struct {
	PortsInserted    int `json:"ports_inserted"`
	PortsUpdated     int `json:"ports_updated"`
	PortsDeleted     int `json:"ports_deleted"`
	BindingsInserted int `json:"bindings_inserted"`
	BindingsDeleted  int `json:"bindings_deleted"`
	Moved            int `json:"moved"`
	Discovered       int `json:"discovered"`
}

// RefreshOutcome is the result of one hub's refresh attempt
type RefreshOutcome struct {
	HubAddress string        `json:"hub_address"`
	OK         bool          `json:"ok"`
	Error      string        `json:"error,omitempty"`
	Counts     RefreshCounts `json:"counts"`
	Duration   time.Duration `json:"duration"`
}

// CycleOutcome aggregates one fleet-wide refresh cycle. A cycle that was
// rejected because another cycle was still running reports Skipped with
// zero counts. Hubs whose refresh slot was held by a concurrent manual
// refresh are counted as busy, separate from real failures.
type CycleOutcome struct {
	Skipped    bool          `json:"skipped"`
	Attempted  int           `json:"attempted"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Busy       int           `json:"busy,omitempty"`
	FailedHubs []string      `json:"failed_hubs,omitempty"`
	BusyHubs   []string      `json:"busy_hubs,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// HubStatus reports the most recent attempt outcome for one hub,
// independent of any fleet cycle
type HubStatus struct {
	HubAddress  string     `json:"hub_address"`
	LastOK      bool       `json:"last_ok"`
	LastAttempt *time.Time `json:"last_attempt,omitempty"`
	Running     bool       `json:"running"`
}
