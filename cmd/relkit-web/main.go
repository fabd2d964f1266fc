package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/relkit/relkit/internal/backup"
	"github.com/relkit/relkit/internal/config"
	"github.com/relkit/relkit/internal/server"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (overrides environment variables)")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadConfigFile(*configPath)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := server.OpenStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Backup.Enabled {
		svc, err := backup.New(backup.Config{
			DBPath:   filepath.Join(cfg.Storage.DataPath, "relkit.db"),
			Dir:      cfg.Backup.Dir,
			Interval: time.Duration(cfg.Backup.IntervalMinutes) * time.Minute,
			Keep:     cfg.Backup.Keep,
			Verify:   true,
		})
		if err != nil {
			log.Fatalf("Failed to initialize backups: %v", err)
		}
		go func() {
			if err := svc.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("Backup service stopped: %v", err)
			}
		}()
	}

	addr, _, err := server.Start(ctx, cfg, store)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("relkit API running at http://%s (storage: %s)", addr, cfg.Storage.Engine)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()
	time.Sleep(1 * time.Second) // Give time for connections to close
}
