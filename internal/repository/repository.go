package repository

import (
	"context"
	"errors"
	"time"

	"oltscope/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// SightingUpdate is a staged upsert for one serial. LastSeen always
// advances; status and last-online move only when the cycle actually
// observed them.
type SightingUpdate struct {
	Serial string
	// HasStatus marks that the status table yielded a code for this serial
	HasStatus bool
	Status    int
	// Online marks a confirmed-online observation; it also advances
	// the last-online timestamp
	Online bool
}

// ChangeSet is the full set of row changes one reconciliation computed
// for a hub. ApplyRefresh executes it as a single transaction, in the
// declared order: ports (delete, insert, rename), foreign binding
// purges, own bindings (delete, insert), sighting upserts, offline
// marks, then discovery appends and the cap trim.
type ChangeSet struct {
	DeletePorts []int
	InsertPorts []domain.Port
	RenamePorts []domain.Port

	// PurgeSerials lists serials whose bindings on any other hub must
	// be removed before this hub's bindings are written
	PurgeSerials []string

	DeleteBindings []domain.SlotKey
	InsertBindings []domain.Binding

	Sightings   []SightingUpdate
	MarkOffline []string
	Discoveries []domain.Discovery
}

// Empty reports whether applying the change set would touch any row
func (cs *ChangeSet) Empty() bool {
	return len(cs.DeletePorts) == 0 &&
		len(cs.InsertPorts) == 0 &&
		len(cs.RenamePorts) == 0 &&
		len(cs.PurgeSerials) == 0 &&
		len(cs.DeleteBindings) == 0 &&
		len(cs.InsertBindings) == 0 &&
		len(cs.Sightings) == 0 &&
		len(cs.MarkOffline) == 0 &&
		len(cs.Discoveries) == 0
}

// Store is the persistence interface for hubs, ports, bindings,
// endpoint sightings and the recent-discovery feed
type Store interface {
	// Hub administration
	CreateHub(ctx context.Context, hub *domain.Hub) error
	GetHub(ctx context.Context, address string) (*domain.Hub, error)
	ListHubs(ctx context.Context) ([]domain.Hub, error)
	DeleteHub(ctx context.Context, address string) error
	TouchHubRefreshed(ctx context.Context, address string, at time.Time) error

	// Cached inventory reads
	PortsForHub(ctx context.Context, address string) ([]domain.Port, error)
	BindingsForHub(ctx context.Context, address string) ([]domain.Binding, error)
	BindingsOnPort(ctx context.Context, address string, portIndex int) ([]domain.Binding, error)
	BindingForSerial(ctx context.Context, serial string) (*domain.Binding, error)

	// HubsBoundElsewhere maps each serial bound on a hub other than the
	// given one to the hub currently holding the binding
	HubsBoundElsewhere(ctx context.Context, serials []string, exceptHub string) (map[string]string, error)

	SightingForSerial(ctx context.Context, serial string) (*domain.Sighting, error)
	KnownSerials(ctx context.Context, serials []string) (map[string]bool, error)
	RecentDiscoveries(ctx context.Context, limit int) ([]domain.Discovery, error)

	// ApplyRefresh commits one hub's reconciliation atomically
	ApplyRefresh(ctx context.Context, address string, cs *ChangeSet, now time.Time) error

	// ReplaceBinding rewrites a single endpoint's binding after an
	// out-of-cycle locate: delete everywhere, insert the fresh location
	ReplaceBinding(ctx context.Context, b domain.Binding, now time.Time) error

	Close() error
}
