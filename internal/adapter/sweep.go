package adapter

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/Ullaakut/nmap/v3"

	"oltscope/internal/dump"
	"oltscope/internal/snmp"
)

// Candidate is one host on the swept subnet that answered the SNMP
// probe and looks like a hub
type Candidate struct {
	Address  string `json:"address"`
	SysDescr string `json:"sys_descr"`
	SysName  string `json:"sys_name,omitempty"`

	// KnownVendor is set when the sysDescr names a device family the
	// poller understands
	KnownVendor string `json:"known_vendor,omitempty"`
}

// Querier is the SNMP probe used against swept hosts
type Querier interface {
	Walk(ctx context.Context, target, community, oid string) ([]string, error)
}

// Sweeper scans management subnets for unregistered hubs
type Sweeper struct {
	querier   Querier
	community string
	probes    int
}

// NewSweeper creates a sweeper that probes with the given default
// community. probes caps concurrent SNMP probes (values below 1 fall
// back to 8).
func NewSweeper(querier Querier, community string, probes int) *Sweeper {
	if probes < 1 {
		probes = 8
	}
	return &Sweeper{querier: querier, community: community, probes: probes}
}

// vendorFromDescr maps a sysDescr to a vendor tag the poller knows
func vendorFromDescr(descr string) string {
	lower := strings.ToLower(descr)
	if strings.Contains(lower, "bdcom") {
		return "bdcom"
	}
	return ""
}

// Sweep scans one CIDR and returns the hosts that answered the SNMP
// probe, hubs first-class and everything else filtered out
func (s *Sweeper) Sweep(ctx context.Context, cidr string) ([]Candidate, error) {
	hosts, err := s.liveHosts(ctx, cidr)
	if err != nil {
		return nil, err
	}
	log.Printf("Sweep %s: %d live hosts", cidr, len(hosts))

	addresses := make(chan string)
	results := make(chan Candidate)

	var wg sync.WaitGroup
	for i := 0; i < s.probes; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for address := range addresses {
				if c, ok := s.probe(ctx, address); ok {
					results <- c
				}
			}
		}()
	}

	go func() {
		for _, host := range hosts {
			addresses <- host
		}
		close(addresses)
		wg.Wait()
		close(results)
	}()

	var candidates []Candidate
	for c := range results {
		candidates = append(candidates, c)
	}
	log.Printf("Sweep %s: %d candidates answered SNMP", cidr, len(candidates))
	return candidates, nil
}

// liveHosts runs an nmap ping scan over the CIDR
func (s *Sweeper) liveHosts(ctx context.Context, cidr string) ([]string, error) {
	scanner, err := nmap.NewScanner(
		ctx,
		nmap.WithTargets(cidr),
		nmap.WithPingScan(),
	)
	if err != nil {
		return nil, fmt.Errorf("create scanner: %w", err)
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", cidr, err)
	}
	if warnings != nil && len(*warnings) > 0 {
		log.Printf("Sweep %s: nmap warnings: %v", cidr, *warnings)
	}
	if result == nil {
		return nil, fmt.Errorf("scan %s: nil result", cidr)
	}

	var hosts []string
	for _, host := range result.Hosts {
		if host.Status.State != "up" || len(host.Addresses) == 0 {
			continue
		}
		for _, addr := range host.Addresses {
			if addr.AddrType == "ipv4" {
				hosts = append(hosts, addr.Addr)
				break
			}
		}
	}
	return hosts, nil
}

// probe asks one host for sysDescr; hosts that do not answer are not
// candidates
func (s *Sweeper) probe(ctx context.Context, address string) (Candidate, bool) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	lines, err := s.querier.Walk(ctx, address, s.community, strings.TrimSuffix(snmp.OIDSysDescr, ".0"))
	if err != nil {
		return Candidate{}, false
	}
	descr, ok := dump.FirstString(lines)
	if !ok {
		return Candidate{}, false
	}

	c := Candidate{
		Address:     address,
		SysDescr:    descr,
		KnownVendor: vendorFromDescr(descr),
	}
	if lines, err := s.querier.Walk(ctx, address, s.community, strings.TrimSuffix(snmp.OIDSysName, ".0")); err == nil {
		if name, ok := dump.FirstString(lines); ok {
			c.SysName = name
		}
	}
	return c, true
}
