// Package sqlite implements repository.Store on SQLite via the pure-Go
// modernc driver. Each hub's reconciliation commits as one transaction;
// WAL mode and a busy timeout keep concurrent workers from tripping
// over each other.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"oltscope/internal/domain"
	"oltscope/internal/repository"

	_ "modernc.org/sqlite"
)

// Store implements repository.Store using SQLite
type Store struct {
	db *sql.DB
}

// New opens (and migrates) the database at path. ":memory:" is
// supported for tests.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if path == ":memory:" {
		// every pool connection would otherwise get its own empty DB
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func dsn(path string) string {
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS hubs (
		address TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		community TEXT NOT NULL,
		vendor TEXT NOT NULL DEFAULT 'bdcom',
		last_refresh_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS ports (
		hub_address TEXT NOT NULL,
		port_index INTEGER NOT NULL,
		name TEXT NOT NULL,
		PRIMARY KEY (hub_address, port_index),
		FOREIGN KEY (hub_address) REFERENCES hubs(address) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS bindings (
		hub_address TEXT NOT NULL,
		port_index INTEGER NOT NULL,
		slot_id INTEGER NOT NULL,
		serial TEXT NOT NULL,
		PRIMARY KEY (hub_address, port_index, slot_id),
		FOREIGN KEY (hub_address) REFERENCES hubs(address) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS endpoint_sightings (
		serial TEXT PRIMARY KEY,
		first_seen DATETIME NOT NULL,
		last_seen DATETIME NOT NULL,
		last_online DATETIME,
		status INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS recent_discoveries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		serial TEXT NOT NULL UNIQUE,
		discovered_at DATETIME NOT NULL,
		hub_address TEXT NOT NULL,
		port_index INTEGER NOT NULL,
		slot_id INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bindings_serial ON bindings(serial);
	CREATE INDEX IF NOT EXISTS idx_discoveries_at ON recent_discoveries(discovered_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateHub inserts or replaces a hub row; the cached inventory of a
// replaced hub is preserved since the address stays
func (s *Store) CreateHub(ctx context.Context, hub *domain.Hub) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hubs (address, name, community, vendor)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			name = excluded.name,
			community = excluded.community,
			vendor = excluded.vendor
	`, hub.Address, hub.Name, hub.Community, hub.Vendor)
	if err != nil {
		return fmt.Errorf("upsert hub %s: %w", hub.Address, err)
	}
	return nil
}

// GetHub retrieves a single hub by address
func (s *Store) GetHub(ctx context.Context, address string) (*domain.Hub, error) {
	var (
		hub     domain.Hub
		refresh sql.NullTime
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT address, name, community, vendor, last_refresh_at
		FROM hubs WHERE address = ?
	`, address).Scan(&hub.Address, &hub.Name, &hub.Community, &hub.Vendor, &refresh)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("hub %s: %w", address, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query hub %s: %w", address, err)
	}

	hub.LastRefreshAt = nullToTimePtr(refresh)
	return &hub, nil
}

// ListHubs returns all hubs ordered by address
func (s *Store) ListHubs(ctx context.Context) ([]domain.Hub, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, name, community, vendor, last_refresh_at
		FROM hubs ORDER BY address
	`)
	if err != nil {
		return nil, fmt.Errorf("query hubs: %w", err)
	}
	defer rows.Close()

	var hubs []domain.Hub
	for rows.Next() {
		var (
			hub     domain.Hub
			refresh sql.NullTime
		)
		if err := rows.Scan(&hub.Address, &hub.Name, &hub.Community, &hub.Vendor, &refresh); err != nil {
			return nil, fmt.Errorf("scan hub: %w", err)
		}
		hub.LastRefreshAt = nullToTimePtr(refresh)
		hubs = append(hubs, hub)
	}
	return hubs, rows.Err()
}

// DeleteHub removes a hub; ports and bindings go with it via CASCADE
func (s *Store) DeleteHub(ctx context.Context, address string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM hubs WHERE address = ?`, address)
	if err != nil {
		return fmt.Errorf("delete hub %s: %w", address, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("hub %s: %w", address, repository.ErrNotFound)
	}
	return nil
}

// TouchHubRefreshed stamps the last successful reconciliation time
func (s *Store) TouchHubRefreshed(ctx context.Context, address string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE hubs SET last_refresh_at = ? WHERE address = ?
	`, at.UTC(), address)
	if err != nil {
		return fmt.Errorf("touch hub %s: %w", address, err)
	}
	return nil
}

// PortsForHub returns the cached port list for one hub
func (s *Store) PortsForHub(ctx context.Context, address string) ([]domain.Port, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hub_address, port_index, name
		FROM ports WHERE hub_address = ? ORDER BY port_index
	`, address)
	if err != nil {
		return nil, fmt.Errorf("query ports for %s: %w", address, err)
	}
	defer rows.Close()

	var ports []domain.Port
	for rows.Next() {
		var p domain.Port
		if err := rows.Scan(&p.HubAddress, &p.IfIndex, &p.Name); err != nil {
			return nil, fmt.Errorf("scan port: %w", err)
		}
		ports = append(ports, p)
	}
	return ports, rows.Err()
}

// BindingsForHub returns the cached binding list for one hub
func (s *Store) BindingsForHub(ctx context.Context, address string) ([]domain.Binding, error) {
	return s.queryBindings(ctx, `
		SELECT hub_address, port_index, slot_id, serial
		FROM bindings WHERE hub_address = ? ORDER BY port_index, slot_id
	`, address)
}

// BindingsOnPort returns the bindings on one PON port
func (s *Store) BindingsOnPort(ctx context.Context, address string, portIndex int) ([]domain.Binding, error) {
	return s.queryBindings(ctx, `
		SELECT hub_address, port_index, slot_id, serial
		FROM bindings WHERE hub_address = ? AND port_index = ? ORDER BY slot_id
	`, address, portIndex)
}

func (s *Store) queryBindings(ctx context.Context, query string, args ...any) ([]domain.Binding, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bindings: %w", err)
	}
	defer rows.Close()

	var bindings []domain.Binding
	for rows.Next() {
		var b domain.Binding
		if err := rows.Scan(&b.HubAddress, &b.PortIndex, &b.SlotID, &b.Serial); err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

// BindingForSerial looks up the single system-wide binding for a serial
func (s *Store) BindingForSerial(ctx context.Context, serial string) (*domain.Binding, error) {
	var b domain.Binding
	err := s.db.QueryRowContext(ctx, `
		SELECT hub_address, port_index, slot_id, serial
		FROM bindings WHERE serial = ? LIMIT 1
	`, serial).Scan(&b.HubAddress, &b.PortIndex, &b.SlotID, &b.Serial)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("binding for %s: %w", serial, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query binding for %s: %w", serial, err)
	}
	return &b, nil
}

// HubsBoundElsewhere maps each of the given serials to the other hub
// currently holding its binding, if any
func (s *Store) HubsBoundElsewhere(ctx context.Context, serials []string, exceptHub string) (map[string]string, error) {
	out := make(map[string]string)
	if len(serials) == 0 {
		return out, nil
	}

	for _, chunk := range chunked(serials, maxHostParams) {
		query := fmt.Sprintf(`
			SELECT serial, hub_address FROM bindings
			WHERE serial IN (%s) AND hub_address != ?
		`, placeholders(len(chunk)))

		args := make([]any, 0, len(chunk)+1)
		for _, sn := range chunk {
			args = append(args, sn)
		}
		args = append(args, exceptHub)

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("query foreign bindings: %w", err)
		}
		for rows.Next() {
			var serial, hub string
			if err := rows.Scan(&serial, &hub); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan foreign binding: %w", err)
			}
			out[serial] = hub
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// SightingForSerial returns the sighting history for one serial
func (s *Store) SightingForSerial(ctx context.Context, serial string) (*domain.Sighting, error) {
	var (
		sight  domain.Sighting
		online sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT serial, first_seen, last_seen, last_online, status
		FROM endpoint_sightings WHERE serial = ?
	`, serial).Scan(&sight.Serial, &sight.FirstSeen, &sight.LastSeen, &online, &sight.Status)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sighting for %s: %w", serial, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query sighting for %s: %w", serial, err)
	}

	sight.LastOnline = nullToTimePtr(online)
	return &sight, nil
}

// KnownSerials reports which of the given serials already have a
// sighting row; absent serials are globally unseen
func (s *Store) KnownSerials(ctx context.Context, serials []string) (map[string]bool, error) {
	known := make(map[string]bool)
	if len(serials) == 0 {
		return known, nil
	}

	for _, chunk := range chunked(serials, maxHostParams) {
		query := fmt.Sprintf(`
			SELECT serial FROM endpoint_sightings WHERE serial IN (%s)
		`, placeholders(len(chunk)))

		args := make([]any, 0, len(chunk))
		for _, sn := range chunk {
			args = append(args, sn)
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("query known serials: %w", err)
		}
		for rows.Next() {
			var serial string
			if err := rows.Scan(&serial); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan known serial: %w", err)
			}
			known[serial] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return known, nil
}

// RecentDiscoveries returns the newest entries of the discovery feed
func (s *Store) RecentDiscoveries(ctx context.Context, limit int) ([]domain.Discovery, error) {
	if limit <= 0 || limit > domain.DiscoveryLogCap {
		limit = domain.DiscoveryLogCap
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, serial, discovered_at, hub_address, port_index, slot_id
		FROM recent_discoveries
		ORDER BY discovered_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query discoveries: %w", err)
	}
	defer rows.Close()

	var out []domain.Discovery
	for rows.Next() {
		var d domain.Discovery
		if err := rows.Scan(&d.ID, &d.Serial, &d.DiscoveredAt, &d.HubAddress, &d.PortIndex, &d.SlotID); err != nil {
			return nil, fmt.Errorf("scan discovery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ApplyRefresh commits one hub's reconciliation change set atomically.
// Order matters: port deletes precede inserts so a renamed index never
// collides, and foreign binding purges precede this hub's inserts so
// the per-serial uniqueness invariant holds at every commit point.
func (s *Store) ApplyRefresh(ctx context.Context, address string, cs *repository.ChangeSet, now time.Time) error {
	if cs.Empty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin refresh tx: %w", err)
	}
	defer tx.Rollback()

	now = now.UTC()

	// 1. port sync: delete, insert, rename
	for _, idx := range cs.DeletePorts {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM ports WHERE hub_address = ? AND port_index = ?
		`, address, idx); err != nil {
			return fmt.Errorf("delete port %d: %w", idx, err)
		}
	}
	for _, p := range cs.InsertPorts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ports (hub_address, port_index, name) VALUES (?, ?, ?)
		`, address, p.IfIndex, p.Name); err != nil {
			return fmt.Errorf("insert port %d: %w", p.IfIndex, err)
		}
	}
	for _, p := range cs.RenamePorts {
		if _, err := tx.ExecContext(ctx, `
			UPDATE ports SET name = ? WHERE hub_address = ? AND port_index = ?
		`, p.Name, address, p.IfIndex); err != nil {
			return fmt.Errorf("rename port %d: %w", p.IfIndex, err)
		}
	}

	// 2. cross-hub purge: the serials this hub reports stop belonging
	// anywhere else
	for _, chunk := range chunked(cs.PurgeSerials, maxHostParams) {
		query := fmt.Sprintf(`
			DELETE FROM bindings WHERE serial IN (%s) AND hub_address != ?
		`, placeholders(len(chunk)))
		args := make([]any, 0, len(chunk)+1)
		for _, sn := range chunk {
			args = append(args, sn)
		}
		args = append(args, address)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("purge foreign bindings: %w", err)
		}
	}

	// 3. own binding sync: delete then insert, no updates
	for _, key := range cs.DeleteBindings {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM bindings WHERE hub_address = ? AND port_index = ? AND slot_id = ?
		`, address, key.PortIndex, key.SlotID); err != nil {
			return fmt.Errorf("delete binding %d:%d: %w", key.PortIndex, key.SlotID, err)
		}
	}
	for _, b := range cs.InsertBindings {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bindings (hub_address, port_index, slot_id, serial) VALUES (?, ?, ?, ?)
		`, address, b.PortIndex, b.SlotID, b.Serial); err != nil {
			return fmt.Errorf("insert binding %d:%d: %w", b.PortIndex, b.SlotID, err)
		}
	}

	// 4. sighting upserts
	for _, su := range cs.Sightings {
		if err := upsertSighting(ctx, tx, su, now); err != nil {
			return fmt.Errorf("upsert sighting %s: %w", su.Serial, err)
		}
	}

	// 5. absence-based offline marks; last-online stays untouched
	for _, serial := range cs.MarkOffline {
		if _, err := tx.ExecContext(ctx, `
			UPDATE endpoint_sightings SET status = ?, last_seen = ?
			WHERE serial = ? AND status != ?
		`, domain.StatusOffline, now, serial, domain.StatusOffline); err != nil {
			return fmt.Errorf("mark %s offline: %w", serial, err)
		}
	}

	// 6. discovery feed append + cap trim
	for _, d := range cs.Discoveries {
		at := d.DiscoveredAt
		if at.IsZero() {
			at = now
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO recent_discoveries
				(serial, discovered_at, hub_address, port_index, slot_id)
			VALUES (?, ?, ?, ?, ?)
		`, d.Serial, at.UTC(), d.HubAddress, d.PortIndex, d.SlotID); err != nil {
			return fmt.Errorf("append discovery %s: %w", d.Serial, err)
		}
	}
	if len(cs.Discoveries) > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM recent_discoveries WHERE id NOT IN (
				SELECT id FROM recent_discoveries
				ORDER BY discovered_at DESC, id DESC
				LIMIT ?
			)
		`, domain.DiscoveryLogCap); err != nil {
			return fmt.Errorf("trim discoveries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit refresh tx: %w", err)
	}
	return nil
}

func upsertSighting(ctx context.Context, tx *sql.Tx, su repository.SightingUpdate, now time.Time) error {
	switch {
	case su.Online:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO endpoint_sightings (serial, first_seen, last_seen, last_online, status)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(serial) DO UPDATE SET
				last_seen = excluded.last_seen,
				last_online = excluded.last_online,
				status = excluded.status
		`, su.Serial, now, now, now, su.Status)
		return err
	case su.HasStatus:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO endpoint_sightings (serial, first_seen, last_seen, status)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(serial) DO UPDATE SET
				last_seen = excluded.last_seen,
				status = excluded.status
		`, su.Serial, now, now, su.Status)
		return err
	default:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO endpoint_sightings (serial, first_seen, last_seen, status)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(serial) DO UPDATE SET
				last_seen = excluded.last_seen
		`, su.Serial, now, now, domain.StatusOffline)
		return err
	}
}

// ReplaceBinding rewrites the single binding for a serial after an
// out-of-cycle locate, applying the same latest-observation-wins rule
// as reconciliation
func (s *Store) ReplaceBinding(ctx context.Context, b domain.Binding, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM bindings WHERE serial = ?
	`, b.Serial); err != nil {
		return fmt.Errorf("clear bindings for %s: %w", b.Serial, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bindings (hub_address, port_index, slot_id, serial) VALUES (?, ?, ?, ?)
	`, b.HubAddress, b.PortIndex, b.SlotID, b.Serial); err != nil {
		return fmt.Errorf("insert binding for %s: %w", b.Serial, err)
	}

	up := repository.SightingUpdate{Serial: b.Serial}
	if err := upsertSighting(ctx, tx, up, now.UTC()); err != nil {
		return fmt.Errorf("upsert sighting %s: %w", b.Serial, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace tx: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
