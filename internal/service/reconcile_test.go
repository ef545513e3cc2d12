package service

import (
	"context"
	"testing"
	"time"

	"oltscope/internal/domain"
	"oltscope/internal/dump"
	"oltscope/internal/repository"
	"oltscope/internal/repository/sqlite"
)

func newTestStore(t *testing.T) repository.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addHub(t *testing.T, s repository.Store, address string) {
	t.Helper()
	hub := &domain.Hub{Address: address, Name: "hub-" + address, Community: "public", Vendor: "bdcom"}
	if err := s.CreateHub(context.Background(), hub); err != nil {
		t.Fatalf("create hub: %v", err)
	}
}

// fullSnapshot builds a healthy four-table snapshot: two ports, two
// bound endpoints, one online and one offline
func fullSnapshot() *Snapshot {
	return &Snapshot{
		Ports: dump.Table[dump.PortRow]{OK: true, Rows: []dump.PortRow{
			{IfIndex: 1, Name: "GPON0/1"},
			{IfIndex: 2, Name: "GPON0/2"},
		}},
		Bindings: dump.Table[dump.BindingRow]{OK: true, Rows: []dump.BindingRow{
			{PortIndex: 1, SlotID: 1, RawSerial: "BDCM:B12A632B"},
			{PortIndex: 1, SlotID: 2, RawSerial: "BDCM:00C0FFEE"},
		}},
		Status: dump.Table[dump.IntRow]{OK: true, Rows: []dump.IntRow{
			{Index: 101, Value: domain.StatusOnline},
			{Index: 102, Value: domain.StatusOffline},
		}},
		Serials: dump.Table[dump.StringRow]{OK: true, Rows: []dump.StringRow{
			{Index: 101, Value: "BDCM:B12A632B"},
			{Index: 102, Value: "BDCM:00C0FFEE"},
		}},
	}
}

func TestRefreshPopulatesCache(t *testing.T) {
	store := newTestStore(t)
	recon := NewReconciler(store, NewEventBus())
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	addHub(t, store, "10.0.0.1")

	counts, err := recon.Refresh(ctx, "10.0.0.1", fullSnapshot(), now)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if counts.PortsInserted != 2 || counts.BindingsInserted != 2 || counts.Discovered != 2 {
		t.Errorf("counts = %+v", counts)
	}

	ports, _ := store.PortsForHub(ctx, "10.0.0.1")
	if len(ports) != 2 {
		t.Errorf("expected 2 cached ports, got %d", len(ports))
	}

	sight, err := store.SightingForSerial(ctx, "4244434DB12A632B")
	if err != nil {
		t.Fatalf("sighting: %v", err)
	}
	if !sight.Online() {
		t.Error("online endpoint cached as offline")
	}

	offline, err := store.SightingForSerial(ctx, "4244434D00C0FFEE")
	if err != nil {
		t.Fatalf("sighting: %v", err)
	}
	if offline.Online() {
		t.Error("offline endpoint cached as online")
	}

	hub, _ := store.GetHub(ctx, "10.0.0.1")
	if hub.LastRefreshAt == nil {
		t.Error("refresh did not stamp the hub")
	}

	feed, _ := store.RecentDiscoveries(ctx, 0)
	if len(feed) != 2 {
		t.Errorf("expected 2 discoveries, got %d", len(feed))
	}
}

func TestRefreshSettles(t *testing.T) {
	store := newTestStore(t)
	recon := NewReconciler(store, NewEventBus())
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	addHub(t, store, "10.0.0.1")

	if _, err := recon.Refresh(ctx, "10.0.0.1", fullSnapshot(), now); err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	// an identical second snapshot changes no inventory rows
	cs, counts, err := recon.Plan(ctx, "10.0.0.1", fullSnapshot(), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("second plan: %v", err)
	}
	if len(cs.DeletePorts)+len(cs.InsertPorts)+len(cs.RenamePorts) != 0 {
		t.Errorf("port changes on identical snapshot: %+v", cs)
	}
	if len(cs.DeleteBindings)+len(cs.InsertBindings) != 0 {
		t.Errorf("binding changes on identical snapshot: %+v", cs)
	}
	if len(cs.Discoveries) != 0 || len(cs.MarkOffline) != 0 {
		t.Errorf("spurious discoveries or offline marks: %+v", cs)
	}
	if counts.Moved != 0 {
		t.Errorf("spurious move count %d", counts.Moved)
	}
	// sightings still advance last-seen every cycle
	if len(cs.Sightings) != 2 {
		t.Errorf("expected 2 sighting updates, got %d", len(cs.Sightings))
	}
}

func TestEndpointMovesBetweenHubs(t *testing.T) {
	store := newTestStore(t)
	recon := NewReconciler(store, NewEventBus())
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	addHub(t, store, "10.0.0.1")
	addHub(t, store, "10.0.0.2")

	if _, err := recon.Refresh(ctx, "10.0.0.1", fullSnapshot(), now); err != nil {
		t.Fatalf("seed hub 1: %v", err)
	}

	// hub 2 now reports one of hub 1's endpoints
	snap := &Snapshot{
		Bindings: dump.Table[dump.BindingRow]{OK: true, Rows: []dump.BindingRow{
			{PortIndex: 7, SlotID: 4, RawSerial: "BDCM:B12A632B"},
		}},
	}
	counts, err := recon.Refresh(ctx, "10.0.0.2", snap, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("refresh hub 2: %v", err)
	}
	if counts.Moved != 1 {
		t.Errorf("moved = %d, want 1", counts.Moved)
	}
	if counts.Discovered != 0 {
		t.Errorf("a moved endpoint is not a discovery, got %d", counts.Discovered)
	}

	b, err := store.BindingForSerial(ctx, "4244434DB12A632B")
	if err != nil {
		t.Fatalf("binding: %v", err)
	}
	if b.HubAddress != "10.0.0.2" || b.PortIndex != 7 || b.SlotID != 4 {
		t.Errorf("binding did not move, got %+v", b)
	}
}

func TestFailedBindingWalkLeavesCacheAlone(t *testing.T) {
	store := newTestStore(t)
	recon := NewReconciler(store, NewEventBus())
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	addHub(t, store, "10.0.0.1")

	if _, err := recon.Refresh(ctx, "10.0.0.1", fullSnapshot(), now); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// binding walk failed this cycle; ports changed, bindings must not
	snap := &Snapshot{
		Ports: dump.Table[dump.PortRow]{OK: true, Rows: []dump.PortRow{
			{IfIndex: 1, Name: "GPON0/1"},
		}},
	}
	if _, err := recon.Refresh(ctx, "10.0.0.1", snap, now.Add(time.Minute)); err != nil {
		t.Fatalf("partial refresh: %v", err)
	}

	bindings, _ := store.BindingsForHub(ctx, "10.0.0.1")
	if len(bindings) != 2 {
		t.Errorf("failed binding walk changed the cache: %+v", bindings)
	}
	ports, _ := store.PortsForHub(ctx, "10.0.0.1")
	if len(ports) != 1 {
		t.Errorf("port sync should still run, got %d ports", len(ports))
	}

	// nobody got marked offline on the strength of a failed walk
	sight, _ := store.SightingForSerial(ctx, "4244434DB12A632B")
	if !sight.Online() {
		t.Error("endpoint marked offline despite failed binding walk")
	}
}

func TestVanishedEndpointInferredOffline(t *testing.T) {
	store := newTestStore(t)
	recon := NewReconciler(store, NewEventBus())
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	addHub(t, store, "10.0.0.1")

	if _, err := recon.Refresh(ctx, "10.0.0.1", fullSnapshot(), now); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// next cycle only the second endpoint remains bound
	snap := fullSnapshot()
	snap.Bindings.Rows = snap.Bindings.Rows[1:]
	snap.Status.Rows = snap.Status.Rows[1:]
	snap.Serials.Rows = snap.Serials.Rows[1:]

	if _, err := recon.Refresh(ctx, "10.0.0.1", snap, now.Add(time.Minute)); err != nil {
		t.Fatalf("second refresh: %v", err)
	}

	sight, err := store.SightingForSerial(ctx, "4244434DB12A632B")
	if err != nil {
		t.Fatalf("sighting: %v", err)
	}
	if sight.Online() {
		t.Error("vanished endpoint still online")
	}
	// its last confirmed-online stamp survives the inference
	if sight.LastOnline == nil || !sight.LastOnline.Equal(now) {
		t.Errorf("last online = %v, want %v", sight.LastOnline, now)
	}
}

func TestUnreachableHubWritesNothing(t *testing.T) {
	store := newTestStore(t)
	recon := NewReconciler(store, NewEventBus())
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	addHub(t, store, "10.0.0.1")

	if _, err := recon.Refresh(ctx, "10.0.0.1", fullSnapshot(), now); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := recon.Refresh(ctx, "10.0.0.1", &Snapshot{}, now.Add(time.Minute)); err == nil {
		t.Fatal("expected error for fully failed snapshot")
	}

	hub, _ := store.GetHub(ctx, "10.0.0.1")
	if hub.LastRefreshAt == nil || !hub.LastRefreshAt.Equal(now) {
		t.Errorf("failed refresh moved the stamp to %v", hub.LastRefreshAt)
	}
	bindings, _ := store.BindingsForHub(ctx, "10.0.0.1")
	if len(bindings) != 2 {
		t.Errorf("failed refresh changed bindings: %+v", bindings)
	}
}

func TestDiscoveriesKeepReportedOrder(t *testing.T) {
	store := newTestStore(t)
	recon := NewReconciler(store, NewEventBus())
	ctx := context.Background()
	addHub(t, store, "10.0.0.1")

	snap := &Snapshot{
		Bindings: dump.Table[dump.BindingRow]{OK: true, Rows: []dump.BindingRow{
			{PortIndex: 2, SlotID: 9, RawSerial: "BDCM:0000000C"},
			{PortIndex: 1, SlotID: 4, RawSerial: "BDCM:0000000A"},
			{PortIndex: 3, SlotID: 1, RawSerial: "BDCM:0000000B"},
		}},
	}
	cs, _, err := recon.Plan(ctx, "10.0.0.1", snap, time.Now().UTC())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	want := []string{"4244434D0000000C", "4244434D0000000A", "4244434D0000000B"}
	if len(cs.Discoveries) != len(want) {
		t.Fatalf("got %d discoveries, want %d", len(cs.Discoveries), len(want))
	}
	for i, d := range cs.Discoveries {
		if d.Serial != want[i] {
			t.Errorf("discovery[%d] = %s, want %s", i, d.Serial, want[i])
		}
	}
}

func TestGarbageSerialSkipped(t *testing.T) {
	store := newTestStore(t)
	recon := NewReconciler(store, NewEventBus())
	ctx := context.Background()
	addHub(t, store, "10.0.0.1")

	snap := &Snapshot{
		Bindings: dump.Table[dump.BindingRow]{OK: true, Rows: []dump.BindingRow{
			{PortIndex: 1, SlotID: 1, RawSerial: "???"},
			{PortIndex: 1, SlotID: 2, RawSerial: "BDCM:B12A632B"},
		}},
	}
	counts, err := recon.Refresh(ctx, "10.0.0.1", snap, time.Now().UTC())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if counts.BindingsInserted != 1 {
		t.Errorf("expected the one good binding, got %d", counts.BindingsInserted)
	}
}
