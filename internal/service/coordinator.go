package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"oltscope/internal/domain"
	"oltscope/internal/dump"
	"oltscope/internal/repository"
	"oltscope/internal/secrets"
	"oltscope/internal/snmp"
)

// ErrHubBusy is returned when a refresh is requested for a hub whose
// previous refresh is still in flight
var ErrHubBusy = errors.New("refresh already in progress for hub")

// maxWorkers bounds the per-cycle worker pool regardless of fleet size
const maxWorkers = 8

// DeviceQuerier abstracts the SNMP transport so the coordinator can be
// tested against canned walk output
type DeviceQuerier interface {
	Walk(ctx context.Context, target, community, oid string) ([]string, error)
	Set(ctx context.Context, target, community, oid, typeTag, value string) error
}

// hubState tracks the in-flight flag and last attempt outcome for one hub
type hubState struct {
	running     bool
	lastOK      bool
	lastAttempt *time.Time
}

// Coordinator schedules hub refreshes: single hubs on demand, the whole
// fleet on a timer. At most one fleet cycle runs at a time and at most
// one refresh per hub.
type Coordinator struct {
	store    repository.Store
	querier  DeviceQuerier
	sealer   *secrets.Sealer
	recon    *Reconciler
	eventBus *EventBus

	queryTimeout time.Duration
	workers      int

	mu           sync.Mutex
	hubs         map[string]*hubState
	cycleRunning bool

	intervalMu sync.Mutex
	interval   time.Duration
	reload     chan struct{}
}

// NewCoordinator creates a coordinator. interval is the fleet cycle
// period, queryTimeout bounds one hub's whole fetch, workers caps the
// pool (values outside 1..8 are clamped).
func NewCoordinator(store repository.Store, querier DeviceQuerier, sealer *secrets.Sealer, eventBus *EventBus, interval, queryTimeout time.Duration, workers int) *Coordinator {
	if workers < 1 || workers > maxWorkers {
		workers = maxWorkers
	}
	return &Coordinator{
		store:        store,
		querier:      querier,
		sealer:       sealer,
		recon:        NewReconciler(store, eventBus),
		eventBus:     eventBus,
		queryTimeout: queryTimeout,
		workers:      workers,
		hubs:         make(map[string]*hubState),
		interval:     interval,
		reload:       make(chan struct{}, 1),
	}
}

// Run drives the fleet refresh loop until ctx is cancelled. Interval
// changes via SetInterval take effect without restarting the loop.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		c.intervalMu.Lock()
		interval := c.interval
		c.intervalMu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-c.reload:
			timer.Stop()
			continue
		case <-timer.C:
		}

		outcome := c.RefreshAll(ctx)
		if outcome.Skipped {
			log.Println("Fleet refresh still running, skipping this cycle")
		}
	}
}

// SetInterval changes the fleet cycle period; the running loop picks it
// up immediately
func (c *Coordinator) SetInterval(d time.Duration) {
	c.intervalMu.Lock()
	c.interval = d
	c.intervalMu.Unlock()

	select {
	case c.reload <- struct{}{}:
	default:
	}
}

func (c *Coordinator) state(address string) *hubState {
	st, ok := c.hubs[address]
	if !ok {
		st = &hubState{}
		c.hubs[address] = st
	}
	return st
}

// tryAcquire claims the per-hub refresh slot, failing fast when the
// previous refresh has not finished
func (c *Coordinator) tryAcquire(address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state(address)
	if st.running {
		return fmt.Errorf("hub %s: %w", address, ErrHubBusy)
	}
	st.running = true
	return nil
}

func (c *Coordinator) release(address string, ok bool, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state(address)
	st.running = false
	st.lastOK = ok
	st.lastAttempt = &at
}

// RefreshHub fetches and reconciles a single hub. A second call for the
// same hub while one is running returns ErrHubBusy; other hubs are
// unaffected.
func (c *Coordinator) RefreshHub(ctx context.Context, address string) (*domain.RefreshOutcome, error) {
	if err := c.tryAcquire(address); err != nil {
		return nil, err
	}

	started := time.Now()
	outcome := c.refreshLocked(ctx, address, started)
	c.release(address, outcome.OK, started)

	if outcome.OK {
		c.eventBus.Publish(Event{Type: EventHubRefreshed, Payload: outcome})
	}
	return outcome, nil
}

func (c *Coordinator) refreshLocked(ctx context.Context, address string, started time.Time) *domain.RefreshOutcome {
	outcome := &domain.RefreshOutcome{HubAddress: address}
	fail := func(err error) *domain.RefreshOutcome {
		log.Printf("Refresh failed for hub %s: %v", address, err)
		outcome.Error = err.Error()
		outcome.Duration = time.Since(started)
		return outcome
	}

	hub, err := c.store.GetHub(ctx, address)
	if err != nil {
		return fail(err)
	}
	community, err := c.sealer.Open(hub.Community)
	if err != nil {
		return fail(fmt.Errorf("unseal community for %s: %w", address, err))
	}

	snap := c.fetchSnapshot(ctx, hub.Address, community)
	counts, err := c.recon.Refresh(ctx, address, snap, started)
	if err != nil {
		return fail(err)
	}

	outcome.OK = true
	outcome.Counts = counts
	outcome.Duration = time.Since(started)
	log.Printf("Refreshed hub %s in %s: +%d/-%d bindings, %d discovered, %d moved",
		address, outcome.Duration.Round(time.Millisecond),
		counts.BindingsInserted, counts.BindingsDeleted, counts.Discovered, counts.Moved)
	return outcome
}

// fetchSnapshot walks the four inventory tables under one deadline.
// Individual walk failures are recorded per data-set, not fatal.
func (c *Coordinator) fetchSnapshot(ctx context.Context, target, community string) *Snapshot {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	snap := &Snapshot{}

	if lines, err := c.querier.Walk(ctx, target, community, snmp.OIDIfName); err == nil {
		snap.Ports = dump.Table[dump.PortRow]{OK: true, Rows: dump.Ports(lines)}
	} else {
		log.Printf("Hub %s: port walk failed: %v", target, err)
	}

	if lines, err := c.querier.Walk(ctx, target, community, snmp.OIDGponBindSerial); err == nil {
		snap.Bindings = dump.Table[dump.BindingRow]{OK: true, Rows: dump.Bindings(lines)}
	} else {
		log.Printf("Hub %s: binding walk failed: %v", target, err)
	}

	if lines, err := c.querier.Walk(ctx, target, community, snmp.OIDGponStatus); err == nil {
		snap.Status = dump.Table[dump.IntRow]{OK: true, Rows: dump.IntTable(lines)}
	} else {
		log.Printf("Hub %s: status walk failed: %v", target, err)
	}

	if lines, err := c.querier.Walk(ctx, target, community, snmp.OIDGponSerialTable); err == nil {
		snap.Serials = dump.Table[dump.StringRow]{OK: true, Rows: dump.StringTable(lines)}
	} else {
		log.Printf("Hub %s: serial walk failed: %v", target, err)
	}

	return snap
}

// RefreshAll runs one fleet cycle over the worker pool. A call that
// lands while a cycle is still running is rejected with Skipped rather
// than queued.
func (c *Coordinator) RefreshAll(ctx context.Context) *domain.CycleOutcome {
	c.mu.Lock()
	if c.cycleRunning {
		c.mu.Unlock()
		return &domain.CycleOutcome{Skipped: true}
	}
	c.cycleRunning = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.cycleRunning = false
		c.mu.Unlock()
	}()

	started := time.Now()
	outcome := &domain.CycleOutcome{}

	hubs, err := c.store.ListHubs(ctx)
	if err != nil {
		log.Printf("Fleet refresh: list hubs: %v", err)
		outcome.Duration = time.Since(started)
		return outcome
	}
	if len(hubs) == 0 {
		outcome.Duration = time.Since(started)
		return outcome
	}

	workers := c.workers
	if workers > len(hubs) {
		workers = len(hubs)
	}

	type hubResult struct {
		address string
		busy    bool
		out     *domain.RefreshOutcome
	}

	addresses := make(chan string)
	results := make(chan hubResult)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for address := range addresses {
				out, err := c.RefreshHub(ctx, address)
				if err != nil {
					// a held hub slot is a collision with a manual
					// refresh, not a hub failure
					if errors.Is(err, ErrHubBusy) {
						results <- hubResult{address: address, busy: true}
						continue
					}
					out = &domain.RefreshOutcome{HubAddress: address, Error: err.Error()}
				}
				results <- hubResult{address: address, out: out}
			}
		}()
	}

	go func() {
		for _, h := range hubs {
			addresses <- h.Address
		}
		close(addresses)
		wg.Wait()
		close(results)
	}()

	for res := range results {
		outcome.Attempted++
		switch {
		case res.busy:
			outcome.Busy++
			outcome.BusyHubs = append(outcome.BusyHubs, res.address)
		case res.out.OK:
			outcome.Succeeded++
		default:
			outcome.Failed++
			outcome.FailedHubs = append(outcome.FailedHubs, res.address)
		}
	}
	outcome.Duration = time.Since(started)

	log.Printf("Fleet refresh: %d hubs, %d ok, %d failed, %d busy in %s",
		outcome.Attempted, outcome.Succeeded, outcome.Failed, outcome.Busy,
		outcome.Duration.Round(time.Millisecond))
	c.eventBus.Publish(Event{Type: EventCycleCompleted, Payload: outcome})
	return outcome
}

// HubStatuses reports the last attempt outcome per hub the coordinator
// has touched
func (c *Coordinator) HubStatuses() []domain.HubStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]domain.HubStatus, 0, len(c.hubs))
	for address, st := range c.hubs {
		out = append(out, domain.HubStatus{
			HubAddress:  address,
			LastOK:      st.lastOK,
			LastAttempt: st.lastAttempt,
			Running:     st.running,
		})
	}
	return out
}

// HubStatus returns the last attempt outcome for one hub, or false if
// the coordinator has never touched it
func (c *Coordinator) HubStatus(address string) (domain.HubStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.hubs[address]
	if !ok {
		return domain.HubStatus{}, false
	}
	return domain.HubStatus{
		HubAddress:  address,
		LastOK:      st.lastOK,
		LastAttempt: st.lastAttempt,
		Running:     st.running,
	}, true
}
