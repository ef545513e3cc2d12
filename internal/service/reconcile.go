package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"oltscope/internal/domain"
	"oltscope/internal/dump"
	"oltscope/internal/repository"
)

// Snapshot carries the four data-sets one hub fetch produced. Each
// table tracks its own success flag, so a partially failed fetch still
// reconciles whatever it got.
type Snapshot struct {
	// Ports maps interface index to port name
	Ports dump.Table[dump.PortRow]

	// Bindings maps (port, slot) to the raw endpoint serial
	Bindings dump.Table[dump.BindingRow]

	// Status maps the hub's endpoint index to a status code
	Status dump.Table[dump.IntRow]

	// Serials maps the hub's endpoint index to a raw serial, joining
	// Status rows back to serials
	Serials dump.Table[dump.StringRow]
}

// failed reports whether every data-set failed, i.e. the hub never
// answered at all
func (s *Snapshot) failed() bool {
	return !s.Ports.OK && !s.Bindings.OK && !s.Status.OK && !s.Serials.OK
}

// Reconciler turns a hub snapshot into a change set against the cached
// inventory and applies it
type Reconciler struct {
	store    repository.Store
	eventBus *EventBus
}

// NewReconciler creates a new reconciler
func NewReconciler(store repository.Store, eventBus *EventBus) *Reconciler {
	return &Reconciler{store: store, eventBus: eventBus}
}

// Refresh reconciles one hub's snapshot against the cache and commits
// the result atomically. It returns the applied row counts.
func (r *Reconciler) Refresh(ctx context.Context, hubAddress string, snap *Snapshot, now time.Time) (domain.RefreshCounts, error) {
	var counts domain.RefreshCounts

	if snap.failed() {
		return counts, fmt.Errorf("hub %s unreachable: every data-set failed", hubAddress)
	}

	cs, counts, err := r.Plan(ctx, hubAddress, snap, now)
	if err != nil {
		return counts, err
	}

	if err := r.store.ApplyRefresh(ctx, hubAddress, cs, now); err != nil {
		return counts, fmt.Errorf("apply refresh for %s: %w", hubAddress, err)
	}
	if err := r.store.TouchHubRefreshed(ctx, hubAddress, now); err != nil {
		return counts, fmt.Errorf("touch hub %s: %w", hubAddress, err)
	}

	for _, d := range cs.Discoveries {
		r.eventBus.Publish(Event{Type: EventEndpointDiscovered, Payload: d})
	}

	return counts, nil
}

// Plan computes the change set for one hub without touching the store's
// write path. Given identical cache state and snapshot it returns an
// empty change set, so repeated refreshes settle.
func (r *Reconciler) Plan(ctx context.Context, hubAddress string, snap *Snapshot, now time.Time) (*repository.ChangeSet, domain.RefreshCounts, error) {
	cs := &repository.ChangeSet{}
	var counts domain.RefreshCounts

	if snap.Ports.OK {
		if err := r.planPorts(ctx, hubAddress, snap.Ports.Rows, cs, &counts); err != nil {
			return nil, counts, err
		}
	}

	statusBySerial := joinStatus(snap)

	if snap.Bindings.OK {
		if err := r.planBindings(ctx, hubAddress, snap, statusBySerial, cs, &counts, now); err != nil {
			return nil, counts, err
		}
	} else if len(statusBySerial) > 0 {
		// bindings failed but the status join succeeded: advance
		// sightings for what we did observe, change no bindings
		for serial, status := range statusBySerial {
			cs.Sightings = append(cs.Sightings, repository.SightingUpdate{
				Serial:    serial,
				HasStatus: true,
				Status:    status,
				Online:    status == domain.StatusOnline,
			})
		}
	}

	return cs, counts, nil
}

func (r *Reconciler) planPorts(ctx context.Context, hubAddress string, rows []dump.PortRow, cs *repository.ChangeSet, counts *domain.RefreshCounts) error {
	desired := make(map[int]string, len(rows))
	for _, row := range rows {
		desired[row.IfIndex] = row.Name
	}

	existing, err := r.store.PortsForHub(ctx, hubAddress)
	if err != nil {
		return fmt.Errorf("load ports for %s: %w", hubAddress, err)
	}

	current := make(map[int]string, len(existing))
	for _, p := range existing {
		current[p.IfIndex] = p.Name
	}

	for idx, name := range current {
		want, ok := desired[idx]
		switch {
		case !ok:
			cs.DeletePorts = append(cs.DeletePorts, idx)
			counts.PortsDeleted++
		case want != name:
			cs.RenamePorts = append(cs.RenamePorts, domain.Port{HubAddress: hubAddress, IfIndex: idx, Name: want})
			counts.PortsUpdated++
		}
	}
	for idx, name := range desired {
		if _, ok := current[idx]; !ok {
			cs.InsertPorts = append(cs.InsertPorts, domain.Port{HubAddress: hubAddress, IfIndex: idx, Name: name})
			counts.PortsInserted++
		}
	}
	return nil
}

func (r *Reconciler) planBindings(ctx context.Context, hubAddress string, snap *Snapshot, statusBySerial map[string]int, cs *repository.ChangeSet, counts *domain.RefreshCounts, now time.Time) error {
	// normalize serials; rows with garbage serials are dropped, not fatal
	desired := make(map[domain.SlotKey]string, len(snap.Bindings.Rows))
	for _, row := range snap.Bindings.Rows {
		serial, err := domain.CanonicalSerial(row.RawSerial)
		if err != nil {
			log.Printf("Hub %s port %d slot %d: unusable serial %q: %v",
				hubAddress, row.PortIndex, row.SlotID, row.RawSerial, err)
			continue
		}
		desired[domain.SlotKey{PortIndex: row.PortIndex, SlotID: row.SlotID}] = serial
	}

	existing, err := r.store.BindingsForHub(ctx, hubAddress)
	if err != nil {
		return fmt.Errorf("load bindings for %s: %w", hubAddress, err)
	}

	current := make(map[domain.SlotKey]string, len(existing))
	currentSerials := make(map[string]bool, len(existing))
	for _, b := range existing {
		current[b.Key()] = b.Serial
		currentSerials[b.Serial] = true
	}

	desiredSerials := make([]string, 0, len(desired))
	seen := make(map[string]bool, len(desired))
	for _, serial := range desired {
		if !seen[serial] {
			seen[serial] = true
			desiredSerials = append(desiredSerials, serial)
		}
	}

	// slot diff: a changed serial on the same slot is delete + insert
	for key, serial := range current {
		if want, ok := desired[key]; !ok || want != serial {
			cs.DeleteBindings = append(cs.DeleteBindings, key)
			counts.BindingsDeleted++
		}
	}
	for key, serial := range desired {
		if have, ok := current[key]; !ok || have != serial {
			cs.InsertBindings = append(cs.InsertBindings, domain.Binding{
				HubAddress: hubAddress,
				PortIndex:  key.PortIndex,
				SlotID:     key.SlotID,
				Serial:     serial,
			})
			counts.BindingsInserted++
		}
	}

	// a serial this hub now reports may hold a stale binding on another
	// hub; the newest observation wins
	elsewhere, err := r.store.HubsBoundElsewhere(ctx, desiredSerials, hubAddress)
	if err != nil {
		return fmt.Errorf("check foreign bindings for %s: %w", hubAddress, err)
	}
	for serial, fromHub := range elsewhere {
		counts.Moved++
		log.Printf("Endpoint %s moved from hub %s to %s", serial, fromHub, hubAddress)
		r.eventBus.Publish(Event{Type: EventEndpointMoved, Payload: map[string]string{
			"serial":   serial,
			"from_hub": fromHub,
			"to_hub":   hubAddress,
		}})
	}
	cs.PurgeSerials = desiredSerials

	// discoveries: serials with no sighting anywhere are brand new
	known, err := r.store.KnownSerials(ctx, desiredSerials)
	if err != nil {
		return fmt.Errorf("check known serials for %s: %w", hubAddress, err)
	}
	// walk the raw rows, not the map, so same-cycle discoveries keep
	// the order the hub reported them in
	staged := make(map[string]bool)
	for _, row := range snap.Bindings.Rows {
		serial, err := domain.CanonicalSerial(row.RawSerial)
		if err != nil {
			continue
		}
		if known[serial] || staged[serial] {
			continue
		}
		key := domain.SlotKey{PortIndex: row.PortIndex, SlotID: row.SlotID}
		if desired[key] != serial {
			// row lost the per-slot dedup; the winning row stages it
			continue
		}
		staged[serial] = true
		cs.Discoveries = append(cs.Discoveries, domain.Discovery{
			Serial:       serial,
			DiscoveredAt: now,
			HubAddress:   hubAddress,
			PortIndex:    key.PortIndex,
			SlotID:       key.SlotID,
		})
		counts.Discovered++
	}

	for _, serial := range desiredSerials {
		up := repository.SightingUpdate{Serial: serial}
		if status, ok := statusBySerial[serial]; ok {
			up.HasStatus = true
			up.Status = status
			up.Online = status == domain.StatusOnline
		}
		cs.Sightings = append(cs.Sightings, up)
	}

	// serials that vanished from this hub's binding table are inferred
	// offline; this only runs when the binding walk itself succeeded
	for serial := range currentSerials {
		if !seen[serial] {
			cs.MarkOffline = append(cs.MarkOffline, serial)
		}
	}

	return nil
}

// joinStatus maps canonical serials to status codes by joining the
// serial and status tables on the hub's endpoint index. It returns nil
// unless both walks succeeded.
func joinStatus(snap *Snapshot) map[string]int {
	if !snap.Status.OK || !snap.Serials.OK {
		return nil
	}

	statusByIndex := make(map[int]int, len(snap.Status.Rows))
	for _, row := range snap.Status.Rows {
		statusByIndex[row.Index] = row.Value
	}

	out := make(map[string]int, len(snap.Serials.Rows))
	for _, row := range snap.Serials.Rows {
		serial, err := domain.CanonicalSerial(row.Value)
		if err != nil {
			continue
		}
		if status, ok := statusByIndex[row.Index]; ok {
			out[serial] = status
		}
	}
	return out
}
