// Package sqlite provides a SQLite implementation of storage.RelationStore
// using the CGO-free modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/relkit/relkit/internal/storage"
	"github.com/relkit/relkit/pkg/types"
)

// RelationStore implements storage.RelationStore using SQLite.
type RelationStore struct {
	db *sql.DB
}

// NewRelationStore opens a SQLite database, configures WAL mode, and creates
// the schema. Use ":memory:" as the DSN for an ephemeral store in tests.
func NewRelationStore(dsn string) (*RelationStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Using a single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load.
	// WAL mode allows concurrent readers to proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // Connections live for the lifetime of the store.

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable WAL mode: %w", err)
	}

	// Set busy timeout so that callers wait instead of getting an immediate
	// SQLITE_BUSY error when the connection is held by another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &RelationStore{db: db}, nil
}

// RunMigrations applies all pending database migrations from the given
// directory. Use this instead of the embedded Schema constant when the
// deployment manages schema changes through migration files.
func (s *RelationStore) RunMigrations(migrationsDir string) error {
	mgr, err := storage.NewMigrationManager(s.db, migrationsDir)
	if err != nil {
		return fmt.Errorf("sqlite: failed to create migration manager: %w", err)
	}

	if err := mgr.Up(); err != nil {
		return fmt.Errorf("sqlite: failed to run migrations: %w", err)
	}

	return nil
}

// GetDB exposes the underlying database connection for callers that need
// direct access (setup tooling, health checks).
func (s *RelationStore) GetDB() *sql.DB {
	return s.db
}

// Load retrieves the state for a relationship id.
func (s *RelationStore) Load(ctx context.Context, id string) (*types.RelationState, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: relation id is required", storage.ErrInvalidInput)
	}

	query := `
		SELECT
			id, trust, intent, narrative, commitments,
			rupture_risk, gate_status, pending_repair,
			last_signal, gate_history,
			created_at, updated_at
		FROM relations
		WHERE id = ?
	`

	state, err := scanRelation(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: failed to load relation: %w", err)
	}

	return state, nil
}

// Save creates or updates the state for a relationship id (upsert semantics).
func (s *RelationStore) Save(ctx context.Context, id string, state *types.RelationState) error {
	if id == "" || state == nil {
		return fmt.Errorf("%w: relation id and state are required", storage.ErrInvalidInput)
	}
	if state.ID != id {
		return fmt.Errorf("%w: state id %q does not match %q", storage.ErrInvalidInput, state.ID, id)
	}

	var (
		lastSignalJSON  []byte
		gateHistoryJSON []byte
		err             error
	)

	if state.LastSignal != nil {
		lastSignalJSON, err = json.Marshal(state.LastSignal)
		if err != nil {
			return fmt.Errorf("sqlite: failed to marshal last signal: %w", err)
		}
	}

	if len(state.GateHistory) > 0 {
		gateHistoryJSON, err = json.Marshal(state.GateHistory)
		if err != nil {
			return fmt.Errorf("sqlite: failed to marshal gate history: %w", err)
		}
	}

	if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now().UTC()
	}
	state.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO relations (
			id, trust, intent, narrative, commitments,
			rupture_risk, gate_status, pending_repair,
			last_signal, gate_history,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			trust = excluded.trust,
			intent = excluded.intent,
			narrative = excluded.narrative,
			commitments = excluded.commitments,
			rupture_risk = excluded.rupture_risk,
			gate_status = excluded.gate_status,
			pending_repair = excluded.pending_repair,
			last_signal = excluded.last_signal,
			gate_history = excluded.gate_history,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		state.ID,
		state.Trust,
		state.Intent,
		state.Narrative,
		state.Commitments,
		state.RuptureRisk,
		state.GateStatus,
		boolToInt(state.PendingRepair),
		nullableString(lastSignalJSON),
		nullableString(gateHistoryJSON),
		state.CreatedAt,
		state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to save relation: %w", err)
	}

	return nil
}

// Delete permanently removes the record for a relationship id.
func (s *RelationStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: relation id is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM relations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete relation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// List retrieves relationship states with pagination and filtering,
// ordered by id for deterministic pagination.
func (s *RelationStore) List(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.RelationState], error) {
	opts.Normalize()

	var conditions []string
	var args []interface{}

	if opts.GateStatus != "" {
		conditions = append(conditions, "gate_status = ?")
		args = append(args, opts.GateStatus)
	}
	if opts.MinRisk > 0 {
		conditions = append(conditions, "rupture_risk >= ?")
		args = append(args, opts.MinRisk)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM relations"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("sqlite: failed to count relations: %w", err)
	}

	query := `
		SELECT
			id, trust, intent, narrative, commitments,
			rupture_risk, gate_status, pending_repair,
			last_signal, gate_history,
			created_at, updated_at
		FROM relations` + where + `
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`
	args = append(args, opts.Limit, opts.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list relations: %w", err)
	}
	defer rows.Close()

	var items []types.RelationState
	for rows.Next() {
		state, err := scanRelation(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan relation: %w", err)
		}
		items = append(items, *state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed while iterating relations: %w", err)
	}

	return &storage.PaginatedResult[types.RelationState]{
		Items:    items,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(items) < total,
	}, nil
}

// Close releases the database connection.
func (s *RelationStore) Close() error {
	return s.db.Close()
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanRelation.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRelation scans a single relations row into a RelationState.
func scanRelation(row rowScanner) (*types.RelationState, error) {
	var (
		state           types.RelationState
		pendingRepair   int
		lastSignalJSON  sql.NullString
		gateHistoryJSON sql.NullString
	)

	err := row.Scan(
		&state.ID,
		&state.Trust,
		&state.Intent,
		&state.Narrative,
		&state.Commitments,
		&state.RuptureRisk,
		&state.GateStatus,
		&pendingRepair,
		&lastSignalJSON,
		&gateHistoryJSON,
		&state.CreatedAt,
		&state.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	state.PendingRepair = pendingRepair != 0

	if lastSignalJSON.Valid && lastSignalJSON.String != "" {
		var sig types.Signal
		if err := json.Unmarshal([]byte(lastSignalJSON.String), &sig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal last signal: %w", err)
		}
		state.LastSignal = &sig
	}

	if gateHistoryJSON.Valid && gateHistoryJSON.String != "" {
		if err := json.Unmarshal([]byte(gateHistoryJSON.String), &state.GateHistory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal gate history: %w", err)
		}
	}

	return &state, nil
}

// boolToInt converts a bool to the 0/1 representation stored in SQLite.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullableString converts a possibly-empty JSON blob to a driver value,
// storing NULL instead of an empty string.
func nullableString(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
