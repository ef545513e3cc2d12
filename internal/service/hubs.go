package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"oltscope/internal/domain"
	"oltscope/internal/dump"
	"oltscope/internal/repository"
	"oltscope/internal/secrets"
	"oltscope/internal/snmp"
)

// DeviceInfo is a live scalar snapshot of one hub, fetched on demand
// and never cached
type DeviceInfo struct {
	Address     string `json:"address"`
	SysDescr    string `json:"sys_descr,omitempty"`
	SysName     string `json:"sys_name,omitempty"`
	UptimeTicks int    `json:"uptime_ticks,omitempty"`
	CPUPercent  int    `json:"cpu_percent,omitempty"`
	MemPercent  int    `json:"mem_percent,omitempty"`
	BoardTemp   int    `json:"board_temp,omitempty"`
}

// EndpointDetail combines the cached view of one endpoint with live
// optics read from its hub
type EndpointDetail struct {
	Serial        string           `json:"serial"`
	Binding       *domain.Binding  `json:"binding,omitempty"`
	Sighting      *domain.Sighting `json:"sighting,omitempty"`
	OfflineReason string           `json:"offline_reason,omitempty"`

	// live values, present only when the owning hub answered
	RxPowerDBm  *float64 `json:"rx_power_dbm,omitempty"`
	TxPowerDBm  *float64 `json:"tx_power_dbm,omitempty"`
	DistanceM   *int     `json:"distance_m,omitempty"`
	LastDownAgo string   `json:"last_down,omitempty"`
}

// HubService handles hub administration and the on-demand device
// operations that go straight to the hardware
type HubService struct {
	store    repository.Store
	querier  DeviceQuerier
	sealer   *secrets.Sealer
	eventBus *EventBus

	queryTimeout time.Duration
}

// NewHubService creates a new hub service
func NewHubService(store repository.Store, querier DeviceQuerier, sealer *secrets.Sealer, eventBus *EventBus, queryTimeout time.Duration) *HubService {
	return &HubService{
		store:        store,
		querier:      querier,
		sealer:       sealer,
		eventBus:     eventBus,
		queryTimeout: queryTimeout,
	}
}

// AddHub validates and stores a hub; the community string is sealed
// before it touches the database
func (s *HubService) AddHub(ctx context.Context, hub *domain.Hub) error {
	if err := hub.Validate(); err != nil {
		return err
	}
	if hub.Community == "" {
		return fmt.Errorf("hub community is required")
	}

	sealed, err := s.sealer.Seal(hub.Community)
	if err != nil {
		return fmt.Errorf("seal community: %w", err)
	}
	stored := *hub
	stored.Community = sealed

	if err := s.store.CreateHub(ctx, &stored); err != nil {
		return err
	}

	log.Printf("Hub %s (%s) registered", hub.Address, hub.Name)
	s.eventBus.Publish(Event{Type: EventHubAdded, Payload: hub})
	return nil
}

// ListHubs returns all registered hubs
func (s *HubService) ListHubs(ctx context.Context) ([]domain.Hub, error) {
	return s.store.ListHubs(ctx)
}

// GetHub returns one hub by address
func (s *HubService) GetHub(ctx context.Context, address string) (*domain.Hub, error) {
	return s.store.GetHub(ctx, address)
}

// DeleteHub removes a hub and its cached inventory
func (s *HubService) DeleteHub(ctx context.Context, address string) error {
	if err := s.store.DeleteHub(ctx, address); err != nil {
		return err
	}
	log.Printf("Hub %s removed", address)
	s.eventBus.Publish(Event{Type: EventHubDeleted, Payload: map[string]string{"address": address}})
	return nil
}

// HubPorts returns the cached port inventory of a hub
func (s *HubService) HubPorts(ctx context.Context, address string) ([]domain.Port, error) {
	return s.store.PortsForHub(ctx, address)
}

// HubBindings returns the cached bindings of a hub
func (s *HubService) HubBindings(ctx context.Context, address string) ([]domain.Binding, error) {
	return s.store.BindingsForHub(ctx, address)
}

// PortEndpoints returns the cached bindings on one port
func (s *HubService) PortEndpoints(ctx context.Context, address string, portIndex int) ([]domain.Binding, error) {
	return s.store.BindingsOnPort(ctx, address, portIndex)
}

// RecentDiscoveries returns the discovery feed, newest first
func (s *HubService) RecentDiscoveries(ctx context.Context, limit int) ([]domain.Discovery, error) {
	return s.store.RecentDiscoveries(ctx, limit)
}

// community returns the usable community string for a hub
func (s *HubService) community(ctx context.Context, address string) (*domain.Hub, string, error) {
	hub, err := s.store.GetHub(ctx, address)
	if err != nil {
		return nil, "", err
	}
	community, err := s.sealer.Open(hub.Community)
	if err != nil {
		return nil, "", fmt.Errorf("unseal community for %s: %w", address, err)
	}
	return hub, community, nil
}

// scalar walks the parent of a .0 leaf and returns its lines; BulkWalk
// of the exact leaf yields nothing
func (s *HubService) scalar(ctx context.Context, target, community, oid string) []string {
	lines, err := s.querier.Walk(ctx, target, community, strings.TrimSuffix(oid, ".0"))
	if err != nil {
		return nil
	}
	return lines
}

// DeviceInfo fetches live system scalars from a hub. Fields that the
// device declines to answer stay zero.
func (s *HubService) DeviceInfo(ctx context.Context, address string) (*DeviceInfo, error) {
	hub, community, err := s.community(ctx, address)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	info := &DeviceInfo{Address: hub.Address}
	if v, ok := dump.FirstString(s.scalar(ctx, hub.Address, community, snmp.OIDSysDescr)); ok {
		info.SysDescr = v
	} else {
		// no sysDescr at all means the hub is not answering
		return nil, fmt.Errorf("hub %s did not answer", address)
	}
	if v, ok := dump.FirstString(s.scalar(ctx, hub.Address, community, snmp.OIDSysName)); ok {
		info.SysName = v
	}
	if v, ok := dump.FirstInt(s.scalar(ctx, hub.Address, community, snmp.OIDSysUptime)); ok {
		info.UptimeTicks = v
	}
	if v, ok := dump.FirstInt(s.scalar(ctx, hub.Address, community, snmp.OIDCPUUsage)); ok {
		info.CPUPercent = v
	}
	if v, ok := dump.FirstInt(s.scalar(ctx, hub.Address, community, snmp.OIDMemUsage)); ok {
		info.MemPercent = v
	}
	if v, ok := dump.FirstInt(s.scalar(ctx, hub.Address, community, snmp.OIDBoardTemp)); ok {
		info.BoardTemp = v
	}
	return info, nil
}

// endpointIndex resolves a hub's internal endpoint index for a serial
// by walking the serial table
func (s *HubService) endpointIndex(ctx context.Context, target, community, serial string) (int, error) {
	lines, err := s.querier.Walk(ctx, target, community, snmp.OIDGponSerialTable)
	if err != nil {
		return 0, fmt.Errorf("walk serial table on %s: %w", target, err)
	}
	for _, row := range dump.StringTable(lines) {
		got, err := domain.CanonicalSerial(row.Value)
		if err != nil {
			continue
		}
		if got == serial {
			return row.Index, nil
		}
	}
	return 0, fmt.Errorf("serial %s on %s: %w", serial, target, repository.ErrNotFound)
}

// EndpointDetail returns the cache view of one serial plus, when the
// owning hub answers, its live optics
func (s *HubService) EndpointDetail(ctx context.Context, serial string) (*EndpointDetail, error) {
	canonical, err := domain.CanonicalSerial(serial)
	if err != nil {
		return nil, err
	}

	detail := &EndpointDetail{Serial: canonical}

	if sight, err := s.store.SightingForSerial(ctx, canonical); err == nil {
		detail.Sighting = sight
		if !sight.Online() {
			detail.OfflineReason = domain.OfflineReason(sight.Status)
		}
	}

	binding, err := s.store.BindingForSerial(ctx, canonical)
	if err != nil {
		if detail.Sighting == nil {
			return nil, fmt.Errorf("endpoint %s: %w", canonical, repository.ErrNotFound)
		}
		// seen before but currently unbound; the cache view is all we have
		return detail, nil
	}
	detail.Binding = binding

	hub, community, err := s.community(ctx, binding.HubAddress)
	if err != nil {
		return detail, nil
	}

	liveCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	idx, err := s.endpointIndex(liveCtx, hub.Address, community, canonical)
	if err != nil {
		log.Printf("Endpoint %s: live lookup skipped: %v", canonical, err)
		return detail, nil
	}

	// per-endpoint optics are reported in tenths of a dBm
	if v, ok := dump.FirstInt(s.scalar(liveCtx, hub.Address, community, fmt.Sprintf("%s.%d", snmp.OIDGponRxPower, idx))); ok {
		dbm := float64(v) / 10.0
		detail.RxPowerDBm = &dbm
	}
	if v, ok := dump.FirstInt(s.scalar(liveCtx, hub.Address, community, fmt.Sprintf("%s.%d", snmp.OIDGponTxPower, idx))); ok {
		dbm := float64(v) / 10.0
		detail.TxPowerDBm = &dbm
	}
	// ranging distance comes back in decimeters
	if v, ok := dump.FirstInt(s.scalar(liveCtx, hub.Address, community, fmt.Sprintf("%s.%d", snmp.OIDGponDistance, idx))); ok {
		meters := v / 10
		detail.DistanceM = &meters
	}
	if v, ok := dump.FirstString(s.scalar(liveCtx, hub.Address, community, fmt.Sprintf("%s.%d", snmp.OIDGponLastDown, idx))); ok {
		detail.LastDownAgo = v
	}
	return detail, nil
}

// LocateEndpoint scans every hub's live binding table for a serial and,
// on a hit, rewrites the cached binding to the fresh location. It is
// the out-of-cycle answer to "where is this endpoint right now".
func (s *HubService) LocateEndpoint(ctx context.Context, serial string) (*domain.Binding, error) {
	canonical, err := domain.CanonicalSerial(serial)
	if err != nil {
		return nil, err
	}

	hubs, err := s.store.ListHubs(ctx)
	if err != nil {
		return nil, err
	}
	if len(hubs) == 0 {
		return nil, fmt.Errorf("locate %s: no hubs registered", canonical)
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	found := make(chan domain.Binding, len(hubs))
	var wg sync.WaitGroup
	for _, hub := range hubs {
		wg.Add(1)
		go func(hub domain.Hub) {
			defer wg.Done()
			community, err := s.sealer.Open(hub.Community)
			if err != nil {
				log.Printf("Locate %s: unseal for %s: %v", canonical, hub.Address, err)
				return
			}
			lines, err := s.querier.Walk(ctx, hub.Address, community, snmp.OIDGponBindSerial)
			if err != nil {
				log.Printf("Locate %s: walk %s: %v", canonical, hub.Address, err)
				return
			}
			for _, row := range dump.Bindings(lines) {
				got, err := domain.CanonicalSerial(row.RawSerial)
				if err != nil || got != canonical {
					continue
				}
				found <- domain.Binding{
					HubAddress: hub.Address,
					PortIndex:  row.PortIndex,
					SlotID:     row.SlotID,
					Serial:     canonical,
				}
				return
			}
		}(hub)
	}
	wg.Wait()
	close(found)

	binding, ok := <-found
	if !ok {
		return nil, fmt.Errorf("endpoint %s: %w", canonical, repository.ErrNotFound)
	}

	if err := s.store.ReplaceBinding(ctx, binding, time.Now().UTC()); err != nil {
		return nil, err
	}
	log.Printf("Endpoint %s located on hub %s port %d slot %d",
		canonical, binding.HubAddress, binding.PortIndex, binding.SlotID)
	return &binding, nil
}

// RebootHub asks a hub to restart itself
func (s *HubService) RebootHub(ctx context.Context, address string) error {
	hub, community, err := s.community(ctx, address)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	if err := s.querier.Set(ctx, hub.Address, community, snmp.OIDHubReboot, "i", "1"); err != nil {
		return fmt.Errorf("reboot hub %s: %w", address, err)
	}
	log.Printf("Hub %s reboot requested", address)
	return nil
}

// BouncePort flaps a hub port: administratively down, pause, back up
func (s *HubService) BouncePort(ctx context.Context, address string, portIndex int) error {
	hub, community, err := s.community(ctx, address)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	oid := fmt.Sprintf("%s.%d", snmp.OIDIfAdminStatus, portIndex)
	if err := s.querier.Set(ctx, hub.Address, community, oid, "i", "2"); err != nil {
		return fmt.Errorf("bounce port %d on %s (down): %w", portIndex, address, err)
	}
	time.Sleep(2 * time.Second)
	if err := s.querier.Set(ctx, hub.Address, community, oid, "i", "1"); err != nil {
		return fmt.Errorf("bounce port %d on %s (up): %w", portIndex, address, err)
	}
	log.Printf("Hub %s port %d bounced", address, portIndex)
	return nil
}

// ResetEndpoint power-cycles one endpoint via its hub
func (s *HubService) ResetEndpoint(ctx context.Context, serial string) error {
	canonical, err := domain.CanonicalSerial(serial)
	if err != nil {
		return err
	}

	binding, err := s.store.BindingForSerial(ctx, canonical)
	if err != nil {
		return err
	}
	hub, community, err := s.community(ctx, binding.HubAddress)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	idx, err := s.endpointIndex(ctx, hub.Address, community, canonical)
	if err != nil {
		return err
	}

	oid := fmt.Sprintf("%s.%d", snmp.OIDGponReset, idx)
	if err := s.querier.Set(ctx, hub.Address, community, oid, "i", "1"); err != nil {
		return fmt.Errorf("reset endpoint %s: %w", canonical, err)
	}
	log.Printf("Endpoint %s reset via hub %s", canonical, binding.HubAddress)
	return nil
}
