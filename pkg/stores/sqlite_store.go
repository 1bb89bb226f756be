package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/c2fleet/pkg/model"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists the fleet inventory in a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// Providers returns the per-kind providers backed by this store.
func (s *SQLiteStore) Providers() Providers {
	classes := &sqliteTable[model.AgentClass]{
		db:    s.db,
		kind:  KindAgentClass,
		table: "agent_classes",
		key:   agentClassKey,
		after: saveClassMembership,
	}
	return Providers{
		AgentClasses:   classes,
		AgentManifests: &sqliteManifests{sqliteTable: &sqliteTable[model.AgentManifest]{db: s.db, kind: KindAgentManifest, table: "agent_manifests", key: agentManifestKey}},
		Agents: &sqliteAgents{&sqliteTable[model.Agent]{
			db:      s.db,
			kind:    KindAgent,
			table:   "agents",
			key:     agentKey,
			columns: []string{"class_name"},
			values:  func(a *model.Agent) []any { return []any{a.AgentClass} },
		}},
		Devices: &sqliteTable[model.Device]{db: s.db, kind: KindDevice, table: "devices", key: deviceKey},
		Operations: &sqliteOperations{&sqliteTable[model.OperationRequest]{
			db:      s.db,
			kind:    KindOperation,
			table:   "operations",
			key:     operationKey,
			columns: []string{"target_agent_id", "state"},
			values: func(o *model.OperationRequest) []any {
				return []any{o.TargetAgentIdentifier, string(o.State)}
			},
		}},
		Heartbeats: &sqliteTable[model.C2Heartbeat]{
			db:      s.db,
			kind:    KindHeartbeat,
			table:   "heartbeats",
			key:     heartbeatKey,
			columns: []string{"agent_id", "device_id", "created_at"},
			values: func(h *model.C2Heartbeat) []any {
				return []any{h.AgentID(), h.DeviceID(), h.Created.UTC()}
			},
		},
	}
}

// sqliteTable stores one entity kind as a JSON body keyed by id, with
// optional secondary columns kept in sync on every save.
type sqliteTable[T any] struct {
	db      *sql.DB
	kind    string
	table   string
	key     func(*T) string
	columns []string
	values  func(*T) []any

	// after runs inside the save transaction.
	after func(ctx context.Context, tx *sql.Tx, entity *T) error
}

func (t *sqliteTable[T]) scanBodies(rows *sql.Rows) ([]*T, error) {
	defer rows.Close()

	out := []*T{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", t.kind, err)
		}
		var v T
		if err := json.Unmarshal([]byte(body), &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", t.kind, err)
		}
		out = append(out, &v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", t.kind, err)
	}

	return out, nil
}

func (t *sqliteTable[T]) query(ctx context.Context, query string, args ...any) ([]*T, error) {
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", t.kind, err)
	}
	return t.scanBodies(rows)
}

func (t *sqliteTable[T]) Count(ctx context.Context) (int, error) {
	var count int
	if err := t.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.table).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", t.kind, err)
	}
	return count, nil
}

func (t *sqliteTable[T]) Save(ctx context.Context, entity *T) (*T, error) {
	id, err := requireEntity(t.kind, entity, t.key)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", t.kind, err)
	}

	cols := append([]string{"id", "body"}, t.columns...)
	args := []any{id, string(body)}
	if t.values != nil {
		args = append(args, t.values(entity)...)
	}

	updates := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s",
		t.table,
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
		strings.Join(updates, ", "),
	)

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to save %s: %w", t.kind, err)
	}
	if t.after != nil {
		if err := t.after(ctx, tx, entity); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit %s: %w", t.kind, err)
	}

	var saved T
	if err := json.Unmarshal(body, &saved); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", t.kind, err)
	}
	return &saved, nil
}

func (t *sqliteTable[T]) GetAll(ctx context.Context) ([]*T, error) {
	return t.query(ctx, "SELECT body FROM "+t.table)
}

func (t *sqliteTable[T]) ExistsByID(ctx context.Context, id string) (bool, error) {
	if err := requireKey(t.kind, id); err != nil {
		return false, err
	}

	var exists bool
	query := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE id = ?)", t.table)
	if err := t.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check %s: %w", t.kind, err)
	}
	return exists, nil
}

func (t *sqliteTable[T]) GetByID(ctx context.Context, id string) (*T, bool, error) {
	if err := requireKey(t.kind, id); err != nil {
		return nil, false, err
	}

	var body string
	err := t.db.QueryRowContext(ctx, "SELECT body FROM "+t.table+" WHERE id = ?", id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", t.kind, err)
	}

	var v T
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return nil, false, fmt.Errorf("failed to decode %s: %w", t.kind, err)
	}
	return &v, true, nil
}

func (t *sqliteTable[T]) DeleteByID(ctx context.Context, id string) error {
	if err := requireKey(t.kind, id); err != nil {
		return err
	}
	if _, err := t.db.ExecContext(ctx, "DELETE FROM "+t.table+" WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete %s: %w", t.kind, err)
	}
	return nil
}

func (t *sqliteTable[T]) Delete(ctx context.Context, entity *T) error {
	id, err := requireEntity(t.kind, entity, t.key)
	if err != nil {
		return err
	}
	return t.DeleteByID(ctx, id)
}

func (t *sqliteTable[T]) DeleteAll(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, "DELETE FROM "+t.table); err != nil {
		return fmt.Errorf("failed to delete all %s: %w", t.kind, err)
	}
	return nil
}

// saveClassMembership rewrites the manifest membership rows of a class.
func saveClassMembership(ctx context.Context, tx *sql.Tx, class *model.AgentClass) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_class_manifests WHERE class_name = ?`, class.Name); err != nil {
		return fmt.Errorf("failed to clear class manifests: %w", err)
	}
	for _, id := range class.ManifestIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO agent_class_manifests (class_name, manifest_id) VALUES (?, ?)`,
			class.Name, id)
		if err != nil {
			return fmt.Errorf("failed to save class manifest: %w", err)
		}
	}
	return nil
}

type sqliteAgents struct {
	*sqliteTable[model.Agent]
}

func (p *sqliteAgents) GetByClassName(ctx context.Context, className string) ([]*model.Agent, error) {
	if err := requireKey(KindAgentClass, className); err != nil {
		return nil, err
	}
	return p.query(ctx, `SELECT body FROM agents WHERE class_name = ?`, className)
}

type sqliteOperations struct {
	*sqliteTable[model.OperationRequest]
}

func (p *sqliteOperations) GetOperationsByAgent(ctx context.Context, agentID string) ([]*model.OperationRequest, error) {
	if err := requireKey(KindAgent, agentID); err != nil {
		return nil, err
	}
	return p.query(ctx, `SELECT body FROM operations WHERE target_agent_id = ?`, agentID)
}

type sqliteManifests struct {
	*sqliteTable[model.AgentManifest]
}

func (p *sqliteManifests) GetAgentManifestsByClass(ctx context.Context, className string) ([]*model.AgentManifest, error) {
	if err := requireKey(KindAgentClass, className); err != nil {
		return nil, err
	}
	return p.query(ctx, `
		SELECT m.body
		FROM agent_manifests m
		JOIN agent_class_manifests c ON c.manifest_id = m.id
		WHERE c.class_name = ?
	`, className)
}
