// Package backup provides periodic snapshots of the sqlite relation database
// with integrity verification and a keep-last-N pruning policy.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Config holds backup service settings.
type Config struct {
	// DBPath is the sqlite database file to snapshot.
	DBPath string

	// Dir is where snapshots are written.
	Dir string

	// Interval between snapshots (default: 1 hour).
	Interval time.Duration

	// Keep is how many snapshots to retain (default: 24).
	Keep int

	// Verify runs an integrity check on each snapshot (default off).
	Verify bool
}

// Service takes periodic consistent snapshots of the relation database.
type Service struct {
	cfg Config

	mu       sync.Mutex
	running  bool
	lastPath string
	lastTime time.Time
}

// New creates a backup service. The snapshot directory is created if needed.
func New(cfg Config) (*Service, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Keep <= 0 {
		cfg.Keep = 24
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	return &Service{cfg: cfg}, nil
}

// Run performs snapshots at the configured interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("backup service already running")
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.Printf("Backup service started: interval=%v, dir=%s", s.cfg.Interval, s.cfg.Dir)

	for {
		select {
		case <-ctx.Done():
			log.Println("Backup service stopping")
			return ctx.Err()
		case <-ticker.C:
			path, err := s.SnapshotNow(ctx)
			if err != nil {
				log.Printf("Scheduled backup failed: %v", err)
				continue
			}
			log.Printf("Backup written: %s", path)
		}
	}
}

// SnapshotNow writes one snapshot, verifies it if configured, and prunes old
// snapshots past the retention count. Returns the snapshot path.
func (s *Service) SnapshotNow(ctx context.Context) (string, error) {
	name := fmt.Sprintf("relkit-%s.db", time.Now().UTC().Format("20060102-150405.000000000"))
	dest := filepath.Join(s.cfg.Dir, name)

	if err := snapshot(ctx, s.cfg.DBPath, dest); err != nil {
		return "", err
	}

	if s.cfg.Verify {
		if err := verify(ctx, dest); err != nil {
			_ = os.Remove(dest)
			return "", fmt.Errorf("snapshot failed verification: %w", err)
		}
	}

	s.mu.Lock()
	s.lastPath = dest
	s.lastTime = time.Now()
	s.mu.Unlock()

	if err := s.prune(); err != nil {
		log.Printf("Backup pruning failed: %v", err)
	}

	return dest, nil
}

// Last returns the path and time of the most recent snapshot, if any.
func (s *Service) Last() (string, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPath, s.lastTime
}

// prune removes the oldest snapshots beyond the retention count. Snapshot
// names embed a UTC timestamp, so lexicographic order is chronological.
func (s *Service) prune() error {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), "relkit-") && strings.HasSuffix(e.Name(), ".db") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for len(names) > s.cfg.Keep {
		victim := names[0]
		names = names[1:]
		if err := os.Remove(filepath.Join(s.cfg.Dir, victim)); err != nil {
			return err
		}
	}
	return nil
}

// snapshot writes a consistent point-in-time copy of the database.
// VACUUM INTO handles WAL mode correctly.
func snapshot(ctx context.Context, sourcePath, destPath string) error {
	if _, err := os.Stat(sourcePath); err != nil {
		return fmt.Errorf("source database: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", sourcePath))
	if err != nil {
		return fmt.Errorf("open source database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping source database: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", destPath)); err != nil {
		return fmt.Errorf("vacuum into %s: %w", destPath, err)
	}
	return nil
}

// verify runs sqlite's integrity check against a snapshot.
func verify(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check returned %q", result)
	}
	return nil
}
