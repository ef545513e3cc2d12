package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"oltscope/internal/domain"
	"oltscope/internal/repository"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreateHub(t *testing.T, s *Store, address, name string) {
	t.Helper()
	hub := &domain.Hub{Address: address, Name: name, Community: "public", Vendor: "bdcom"}
	if err := s.CreateHub(context.Background(), hub); err != nil {
		t.Fatalf("create hub %s: %v", address, err)
	}
}

func TestHubCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateHub(t, s, "10.0.0.1", "olt-east")
	mustCreateHub(t, s, "10.0.0.2", "olt-west")

	hub, err := s.GetHub(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("get hub: %v", err)
	}
	if hub.Name != "olt-east" || hub.Community != "public" {
		t.Errorf("got hub %+v", hub)
	}
	if hub.LastRefreshAt != nil {
		t.Errorf("new hub should have nil last refresh, got %v", hub.LastRefreshAt)
	}

	// upsert on the same address replaces metadata
	mustCreateHub(t, s, "10.0.0.1", "olt-east-renamed")
	hub, err = s.GetHub(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("get hub after upsert: %v", err)
	}
	if hub.Name != "olt-east-renamed" {
		t.Errorf("upsert did not replace name, got %q", hub.Name)
	}

	hubs, err := s.ListHubs(ctx)
	if err != nil {
		t.Fatalf("list hubs: %v", err)
	}
	if len(hubs) != 2 {
		t.Fatalf("expected 2 hubs, got %d", len(hubs))
	}

	if err := s.DeleteHub(ctx, "10.0.0.2"); err != nil {
		t.Fatalf("delete hub: %v", err)
	}
	if _, err := s.GetHub(ctx, "10.0.0.2"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteHub(ctx, "10.0.0.2"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestTouchHubRefreshed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateHub(t, s, "10.0.0.1", "olt-east")

	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	if err := s.TouchHubRefreshed(ctx, "10.0.0.1", at); err != nil {
		t.Fatalf("touch hub: %v", err)
	}

	hub, err := s.GetHub(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("get hub: %v", err)
	}
	if hub.LastRefreshAt == nil || !hub.LastRefreshAt.Equal(at) {
		t.Errorf("last refresh = %v, want %v", hub.LastRefreshAt, at)
	}
}

func TestApplyRefreshPortSync(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	mustCreateHub(t, s, "10.0.0.1", "olt-east")

	cs := &repository.ChangeSet{
		InsertPorts: []domain.Port{
			{HubAddress: "10.0.0.1", IfIndex: 1, Name: "GPON0/1"},
			{HubAddress: "10.0.0.1", IfIndex: 2, Name: "GPON0/2"},
			{HubAddress: "10.0.0.1", IfIndex: 3, Name: "GPON0/3"},
		},
	}
	if err := s.ApplyRefresh(ctx, "10.0.0.1", cs, now); err != nil {
		t.Fatalf("initial apply: %v", err)
	}

	// next cycle: port 2 vanished, port 3 renamed, port 9 appeared
	cs = &repository.ChangeSet{
		DeletePorts: []int{2},
		InsertPorts: []domain.Port{{HubAddress: "10.0.0.1", IfIndex: 9, Name: "GPON0/9"}},
		RenamePorts: []domain.Port{{HubAddress: "10.0.0.1", IfIndex: 3, Name: "GPON0/3-uplink"}},
	}
	if err := s.ApplyRefresh(ctx, "10.0.0.1", cs, now); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	ports, err := s.PortsForHub(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("ports for hub: %v", err)
	}
	want := map[int]string{1: "GPON0/1", 3: "GPON0/3-uplink", 9: "GPON0/9"}
	if len(ports) != len(want) {
		t.Fatalf("expected %d ports, got %d", len(want), len(ports))
	}
	for _, p := range ports {
		if want[p.IfIndex] != p.Name {
			t.Errorf("port %d name = %q, want %q", p.IfIndex, p.Name, want[p.IfIndex])
		}
	}
}

func TestApplyRefreshBindingsAndSightings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	mustCreateHub(t, s, "10.0.0.1", "olt-east")

	cs := &repository.ChangeSet{
		InsertBindings: []domain.Binding{
			{HubAddress: "10.0.0.1", PortIndex: 1, SlotID: 1, Serial: "4244434D00000001"},
			{HubAddress: "10.0.0.1", PortIndex: 1, SlotID: 2, Serial: "4244434D00000002"},
		},
		Sightings: []repository.SightingUpdate{
			{Serial: "4244434D00000001", HasStatus: true, Status: domain.StatusOnline, Online: true},
			{Serial: "4244434D00000002", HasStatus: true, Status: domain.StatusOffline},
		},
	}
	if err := s.ApplyRefresh(ctx, "10.0.0.1", cs, now); err != nil {
		t.Fatalf("apply: %v", err)
	}

	online, err := s.SightingForSerial(ctx, "4244434D00000001")
	if err != nil {
		t.Fatalf("sighting: %v", err)
	}
	if !online.Online() {
		t.Errorf("serial 1 should be online, status %d", online.Status)
	}
	if online.LastOnline == nil || !online.LastOnline.Equal(now) {
		t.Errorf("last online = %v, want %v", online.LastOnline, now)
	}
	if !online.FirstSeen.Equal(now) {
		t.Errorf("first seen = %v, want %v", online.FirstSeen, now)
	}

	offline, err := s.SightingForSerial(ctx, "4244434D00000002")
	if err != nil {
		t.Fatalf("sighting: %v", err)
	}
	if offline.Online() {
		t.Error("serial 2 should be offline")
	}
	if offline.LastOnline != nil {
		t.Errorf("never-online serial has last online %v", offline.LastOnline)
	}

	// later cycle: serial 1 disappears from the binding table
	later := now.Add(time.Minute)
	cs = &repository.ChangeSet{
		DeleteBindings: []domain.SlotKey{{PortIndex: 1, SlotID: 1}},
		MarkOffline:    []string{"4244434D00000001"},
	}
	if err := s.ApplyRefresh(ctx, "10.0.0.1", cs, later); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	sight, err := s.SightingForSerial(ctx, "4244434D00000001")
	if err != nil {
		t.Fatalf("sighting after mark offline: %v", err)
	}
	if sight.Online() {
		t.Error("serial 1 should be marked offline")
	}
	// the last-online stamp records the prior observation, not the mark
	if sight.LastOnline == nil || !sight.LastOnline.Equal(now) {
		t.Errorf("last online = %v, want %v", sight.LastOnline, now)
	}
	if !sight.FirstSeen.Equal(now) {
		t.Errorf("first seen moved to %v", sight.FirstSeen)
	}

	bindings, err := s.BindingsForHub(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("bindings: %v", err)
	}
	if len(bindings) != 1 || bindings[0].Serial != "4244434D00000002" {
		t.Errorf("got bindings %+v", bindings)
	}
}

func TestCrossHubPurge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	mustCreateHub(t, s, "10.0.0.1", "olt-east")
	mustCreateHub(t, s, "10.0.0.2", "olt-west")

	// serial starts out bound on hub 1
	cs := &repository.ChangeSet{
		InsertBindings: []domain.Binding{
			{HubAddress: "10.0.0.1", PortIndex: 1, SlotID: 1, Serial: "4244434D0000AAAA"},
		},
	}
	if err := s.ApplyRefresh(ctx, "10.0.0.1", cs, now); err != nil {
		t.Fatalf("seed hub 1: %v", err)
	}

	elsewhere, err := s.HubsBoundElsewhere(ctx, []string{"4244434D0000AAAA"}, "10.0.0.2")
	if err != nil {
		t.Fatalf("foreign lookup: %v", err)
	}
	if elsewhere["4244434D0000AAAA"] != "10.0.0.1" {
		t.Fatalf("expected serial on 10.0.0.1, got %v", elsewhere)
	}

	// hub 2 now reports the same serial; its refresh purges hub 1's row
	cs = &repository.ChangeSet{
		PurgeSerials: []string{"4244434D0000AAAA"},
		InsertBindings: []domain.Binding{
			{HubAddress: "10.0.0.2", PortIndex: 4, SlotID: 7, Serial: "4244434D0000AAAA"},
		},
	}
	if err := s.ApplyRefresh(ctx, "10.0.0.2", cs, now); err != nil {
		t.Fatalf("apply hub 2: %v", err)
	}

	b, err := s.BindingForSerial(ctx, "4244434D0000AAAA")
	if err != nil {
		t.Fatalf("binding for serial: %v", err)
	}
	if b.HubAddress != "10.0.0.2" || b.PortIndex != 4 || b.SlotID != 7 {
		t.Errorf("binding did not move, got %+v", b)
	}

	old, err := s.BindingsForHub(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("bindings for hub 1: %v", err)
	}
	if len(old) != 0 {
		t.Errorf("hub 1 still holds %+v", old)
	}
}

func TestDeleteHubCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	mustCreateHub(t, s, "10.0.0.1", "olt-east")

	cs := &repository.ChangeSet{
		InsertPorts: []domain.Port{{HubAddress: "10.0.0.1", IfIndex: 1, Name: "GPON0/1"}},
		InsertBindings: []domain.Binding{
			{HubAddress: "10.0.0.1", PortIndex: 1, SlotID: 1, Serial: "4244434D00000001"},
		},
	}
	if err := s.ApplyRefresh(ctx, "10.0.0.1", cs, now); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if err := s.DeleteHub(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("delete hub: %v", err)
	}
	if _, err := s.BindingForSerial(ctx, "4244434D00000001"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("binding survived hub delete: %v", err)
	}
}

func TestKnownSerials(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	mustCreateHub(t, s, "10.0.0.1", "olt-east")

	cs := &repository.ChangeSet{
		Sightings: []repository.SightingUpdate{{Serial: "4244434D00000001"}},
	}
	if err := s.ApplyRefresh(ctx, "10.0.0.1", cs, now); err != nil {
		t.Fatalf("apply: %v", err)
	}

	known, err := s.KnownSerials(ctx, []string{"4244434D00000001", "4244434D00000002"})
	if err != nil {
		t.Fatalf("known serials: %v", err)
	}
	if !known["4244434D00000001"] || known["4244434D00000002"] {
		t.Errorf("got %v", known)
	}
}

func TestDiscoveryLogCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateHub(t, s, "10.0.0.1", "olt-east")

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	total := domain.DiscoveryLogCap + 10

	for i := 0; i < total; i++ {
		cs := &repository.ChangeSet{
			Discoveries: []domain.Discovery{{
				Serial:       fmt.Sprintf("4244434D%08X", i),
				DiscoveredAt: base.Add(time.Duration(i) * time.Second),
				HubAddress:   "10.0.0.1",
				PortIndex:    1,
				SlotID:       i,
			}},
		}
		if err := s.ApplyRefresh(ctx, "10.0.0.1", cs, base); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	feed, err := s.RecentDiscoveries(ctx, 0)
	if err != nil {
		t.Fatalf("recent discoveries: %v", err)
	}
	if len(feed) != domain.DiscoveryLogCap {
		t.Fatalf("feed length = %d, want %d", len(feed), domain.DiscoveryLogCap)
	}
	// newest first, oldest ten trimmed away
	if feed[0].Serial != fmt.Sprintf("4244434D%08X", total-1) {
		t.Errorf("newest entry is %s", feed[0].Serial)
	}
	if feed[len(feed)-1].Serial != fmt.Sprintf("4244434D%08X", 10) {
		t.Errorf("oldest surviving entry is %s", feed[len(feed)-1].Serial)
	}

	// a repeat discovery of a known serial is ignored, not duplicated
	cs := &repository.ChangeSet{
		Discoveries: []domain.Discovery{{
			Serial:       fmt.Sprintf("4244434D%08X", total-1),
			DiscoveredAt: base.Add(time.Hour),
			HubAddress:   "10.0.0.1",
			PortIndex:    2,
			SlotID:       1,
		}},
	}
	if err := s.ApplyRefresh(ctx, "10.0.0.1", cs, base); err != nil {
		t.Fatalf("repeat apply: %v", err)
	}
	feed, err = s.RecentDiscoveries(ctx, 0)
	if err != nil {
		t.Fatalf("recent discoveries: %v", err)
	}
	if len(feed) != domain.DiscoveryLogCap {
		t.Errorf("feed grew to %d after repeat discovery", len(feed))
	}
}

func TestReplaceBinding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	mustCreateHub(t, s, "10.0.0.1", "olt-east")
	mustCreateHub(t, s, "10.0.0.2", "olt-west")

	cs := &repository.ChangeSet{
		InsertBindings: []domain.Binding{
			{HubAddress: "10.0.0.1", PortIndex: 1, SlotID: 1, Serial: "4244434D0000BEEF"},
		},
	}
	if err := s.ApplyRefresh(ctx, "10.0.0.1", cs, now); err != nil {
		t.Fatalf("seed: %v", err)
	}

	moved := domain.Binding{HubAddress: "10.0.0.2", PortIndex: 3, SlotID: 9, Serial: "4244434D0000BEEF"}
	if err := s.ReplaceBinding(ctx, moved, now.Add(time.Minute)); err != nil {
		t.Fatalf("replace binding: %v", err)
	}

	b, err := s.BindingForSerial(ctx, "4244434D0000BEEF")
	if err != nil {
		t.Fatalf("binding for serial: %v", err)
	}
	if b.HubAddress != "10.0.0.2" || b.PortIndex != 3 || b.SlotID != 9 {
		t.Errorf("got %+v", b)
	}

	sight, err := s.SightingForSerial(ctx, "4244434D0000BEEF")
	if err != nil {
		t.Fatalf("sighting: %v", err)
	}
	if !sight.LastSeen.Equal(now.Add(time.Minute)) {
		t.Errorf("last seen = %v", sight.LastSeen)
	}
}

func TestChangeSetEmptySkipsWrite(t *testing.T) {
	s := newTestStore(t)
	if err := s.ApplyRefresh(context.Background(), "10.0.0.1", &repository.ChangeSet{}, time.Now()); err != nil {
		t.Fatalf("empty apply should be a no-op, got %v", err)
	}
}
