package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"oltscope/internal/repository"
	"oltscope/internal/secrets"
	"oltscope/internal/snmp"
)

// fakeQuerier serves canned walk lines per (target, oid). Targets
// listed in fail error out; hold, when set, blocks walks until released.
type fakeQuerier struct {
	mu    sync.Mutex
	walks map[string]map[string][]string
	fail  map[string]bool
	hold  chan struct{}
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{
		walks: make(map[string]map[string][]string),
		fail:  make(map[string]bool),
	}
}

func (f *fakeQuerier) setWalk(target, oid string, lines []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.walks[target] == nil {
		f.walks[target] = make(map[string][]string)
	}
	f.walks[target][oid] = lines
}

func (f *fakeQuerier) Walk(ctx context.Context, target, community, oid string) ([]string, error) {
	f.mu.Lock()
	hold := f.hold
	failing := f.fail[target]
	lines := f.walks[target][oid]
	f.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failing {
		return nil, fmt.Errorf("%s: timeout", target)
	}
	if lines == nil {
		return nil, fmt.Errorf("%s: no such oid %s", target, oid)
	}
	return lines, nil
}

func (f *fakeQuerier) Set(ctx context.Context, target, community, oid, typeTag, value string) error {
	return nil
}

// seedHealthyHub registers a hub and gives the querier a full set of
// walk responses for it
func seedHealthyHub(t *testing.T, store repository.Store, q *fakeQuerier, address string) {
	t.Helper()
	addHub(t, store, address)
	q.setWalk(address, snmp.OIDIfName, []string{
		`.1.3.6.1.2.1.31.1.1.1.1.1 = STRING: "GPON0/1"`,
	})
	q.setWalk(address, snmp.OIDGponBindSerial, []string{
		`.1.3.6.1.4.1.3320.10.2.6.1.3.1.1 = STRING: "BDCM:B12A632B"`,
	})
	q.setWalk(address, snmp.OIDGponStatus, []string{
		`.1.3.6.1.4.1.3320.10.3.3.1.4.101 = INTEGER: 3`,
	})
	q.setWalk(address, snmp.OIDGponSerialTable, []string{
		`.1.3.6.1.4.1.3320.10.3.1.1.4.101 = STRING: "BDCM:B12A632B"`,
	})
}

func newTestCoordinator(store repository.Store, q DeviceQuerier) *Coordinator {
	sealer := secrets.NewSealer([32]byte{1})
	return NewCoordinator(store, q, sealer, NewEventBus(), time.Hour, 5*time.Second, 4)
}

func TestRefreshHubSuccess(t *testing.T) {
	store := newTestStore(t)
	q := newFakeQuerier()
	seedHealthyHub(t, store, q, "10.0.0.1")
	c := newTestCoordinator(store, q)

	out, err := c.RefreshHub(context.Background(), "10.0.0.1")
	if err != nil {
		t.Fatalf("refresh hub: %v", err)
	}
	if !out.OK {
		t.Fatalf("outcome not ok: %s", out.Error)
	}
	if out.Counts.BindingsInserted != 1 || out.Counts.Discovered != 1 {
		t.Errorf("counts = %+v", out.Counts)
	}

	st, ok := c.HubStatus("10.0.0.1")
	if !ok || !st.LastOK || st.Running {
		t.Errorf("hub status = %+v", st)
	}
}

func TestRefreshHubBusy(t *testing.T) {
	store := newTestStore(t)
	q := newFakeQuerier()
	seedHealthyHub(t, store, q, "10.0.0.1")
	seedHealthyHub(t, store, q, "10.0.0.2")

	q.hold = make(chan struct{})
	c := newTestCoordinator(store, q)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := c.RefreshHub(context.Background(), "10.0.0.1"); err != nil {
			t.Errorf("first refresh: %v", err)
		}
	}()

	// wait until the first refresh holds the hub slot
	for {
		if st, ok := c.HubStatus("10.0.0.1"); ok && st.Running {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := c.RefreshHub(context.Background(), "10.0.0.1"); !errors.Is(err, ErrHubBusy) {
		t.Errorf("expected ErrHubBusy, got %v", err)
	}

	// a different hub is not affected by the busy one
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(q.hold)
	}()
	if _, err := c.RefreshHub(context.Background(), "10.0.0.2"); err != nil {
		t.Errorf("other hub blocked: %v", err)
	}

	<-done
}

func TestRefreshAllIsolatesFailures(t *testing.T) {
	store := newTestStore(t)
	q := newFakeQuerier()
	seedHealthyHub(t, store, q, "10.0.0.1")
	seedHealthyHub(t, store, q, "10.0.0.2")
	addHub(t, store, "10.0.0.3")
	q.fail["10.0.0.3"] = true

	// distinct serial on hub 2 so the two healthy hubs do not dedup
	// each other's bindings
	q.setWalk("10.0.0.2", snmp.OIDGponBindSerial, []string{
		`.1.3.6.1.4.1.3320.10.2.6.1.3.1.1 = STRING: "BDCM:00C0FFEE"`,
	})
	q.setWalk("10.0.0.2", snmp.OIDGponSerialTable, []string{
		`.1.3.6.1.4.1.3320.10.3.1.1.4.101 = STRING: "BDCM:00C0FFEE"`,
	})

	c := newTestCoordinator(store, q)
	out := c.RefreshAll(context.Background())

	if out.Skipped {
		t.Fatal("cycle unexpectedly skipped")
	}
	if out.Attempted != 3 || out.Succeeded != 2 || out.Failed != 1 {
		t.Errorf("outcome = %+v", out)
	}
	if len(out.FailedHubs) != 1 || out.FailedHubs[0] != "10.0.0.3" {
		t.Errorf("failed hubs = %v", out.FailedHubs)
	}

	// the healthy hubs were reconciled despite the failure
	bindings, _ := store.BindingsForHub(context.Background(), "10.0.0.1")
	if len(bindings) != 1 {
		t.Errorf("hub 1 not reconciled: %+v", bindings)
	}
}

func TestRefreshAllReportsBusyHubSeparately(t *testing.T) {
	store := newTestStore(t)
	q := newFakeQuerier()
	seedHealthyHub(t, store, q, "10.0.0.1")
	q.hold = make(chan struct{})

	c := newTestCoordinator(store, q)

	// a manual refresh holds the hub slot for the whole cycle
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := c.RefreshHub(context.Background(), "10.0.0.1"); err != nil {
			t.Errorf("manual refresh: %v", err)
		}
	}()
	for {
		if st, ok := c.HubStatus("10.0.0.1"); ok && st.Running {
			break
		}
		time.Sleep(time.Millisecond)
	}

	out := c.RefreshAll(context.Background())
	if out.Skipped {
		t.Fatal("cycle unexpectedly skipped")
	}
	if out.Attempted != 1 || out.Busy != 1 {
		t.Errorf("outcome = %+v, want attempted=1 busy=1", out)
	}
	if out.Failed != 0 || len(out.FailedHubs) != 0 {
		t.Errorf("busy hub escalated to failure: %+v", out)
	}
	if len(out.BusyHubs) != 1 || out.BusyHubs[0] != "10.0.0.1" {
		t.Errorf("busy hubs = %v", out.BusyHubs)
	}

	close(q.hold)
	<-done
}

func TestRefreshAllSingleFlight(t *testing.T) {
	store := newTestStore(t)
	q := newFakeQuerier()
	seedHealthyHub(t, store, q, "10.0.0.1")
	q.hold = make(chan struct{})

	c := newTestCoordinator(store, q)

	first := make(chan *struct{ skipped bool })
	go func() {
		out := c.RefreshAll(context.Background())
		first <- &struct{ skipped bool }{out.Skipped}
	}()

	// wait until the cycle is actually in flight
	for {
		c.mu.Lock()
		running := c.cycleRunning
		c.mu.Unlock()
		if running {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if out := c.RefreshAll(context.Background()); !out.Skipped {
		t.Error("overlapping cycle was not skipped")
	}

	close(q.hold)
	if res := <-first; res.skipped {
		t.Error("first cycle reported skipped")
	}

	// the slot frees up once the cycle finishes
	if out := c.RefreshAll(context.Background()); out.Skipped {
		t.Error("follow-up cycle skipped after completion")
	}
}
