package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/relkit/relkit/internal/config"
	"github.com/relkit/relkit/internal/server"
	"github.com/relkit/relkit/internal/storage"
	"github.com/relkit/relkit/internal/storage/sqlite"
	"github.com/relkit/relkit/pkg/types"
)

const sampleConfig = `# relkit configuration
server:
  host: 127.0.0.1
  port: 7272

storage:
  engine: sqlite
  data_path: ./data
  breaker_enabled: true

kernel:
  rupture_threshold: 0.6
  signal_history_limit: 256

backup:
  enabled: false
  dir: ./data/backups
  interval_minutes: 60
  keep: 24

security:
  mode: development
`

func main() {
	verify := flag.Bool("verify", false, "Verify the installation and exit")
	migrationsDir := flag.String("migrations", "migrations", "Directory containing .up.sql migration files")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *verify {
		runVerify(cfg)
		return
	}

	runInit(cfg, *migrationsDir)
}

// runInit prepares the data directory, applies migrations, and writes a
// sample config file if none exists.
func runInit(cfg *config.Config, migrationsDir string) {
	fmt.Println("relkit setup")
	fmt.Println("============")
	fmt.Println()

	if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
		log.Fatalf("Failed to create data directory %s: %v", cfg.Storage.DataPath, err)
	}
	fmt.Printf("  data directory: %s\n", cfg.Storage.DataPath)

	if cfg.Storage.Engine == "sqlite" {
		dbPath := filepath.Join(cfg.Storage.DataPath, "relkit.db")
		store, err := sqlite.NewRelationStore(dbPath)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer store.Close()

		if _, err := os.Stat(migrationsDir); err == nil {
			if err := store.RunMigrations(migrationsDir); err != nil {
				log.Fatalf("Failed to apply migrations: %v", err)
			}
			fmt.Printf("  migrations applied from %s\n", migrationsDir)
		}
		fmt.Printf("  database: %s\n", dbPath)
	}

	if _, err := os.Stat("relkit.yaml"); os.IsNotExist(err) {
		if err := os.WriteFile("relkit.yaml", []byte(sampleConfig), 0o644); err != nil {
			log.Fatalf("Failed to write relkit.yaml: %v", err)
		}
		fmt.Println("  wrote relkit.yaml")
	}

	fmt.Println()
	fmt.Println("Setup complete. Start the server with: relkit-web -config relkit.yaml")
}

// runVerify opens the configured store and round-trips a probe record.
func runVerify(cfg *config.Config) {
	fmt.Println("relkit verification")
	fmt.Println("===================")
	fmt.Println()

	store, err := server.OpenStore(cfg)
	if err != nil {
		fmt.Printf("  [FAIL] open storage (%s): %v\n", cfg.Storage.Engine, err)
		os.Exit(1)
	}
	defer store.Close()
	fmt.Printf("  [ OK ] storage engine: %s\n", cfg.Storage.Engine)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	probeID := fmt.Sprintf("setup:probe:%d", time.Now().UnixNano())
	state := types.NewRelationState(probeID)

	if err := store.Save(ctx, probeID, state); err != nil {
		fmt.Printf("  [FAIL] write probe record: %v\n", err)
		os.Exit(1)
	}
	if _, err := store.Load(ctx, probeID); err != nil {
		fmt.Printf("  [FAIL] read probe record: %v\n", err)
		os.Exit(1)
	}
	if err := store.Delete(ctx, probeID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		fmt.Printf("  [FAIL] delete probe record: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("  [ OK ] storage round trip")

	fmt.Println()
	fmt.Println("All checks passed.")
}
