package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pairvote/pairvote/internal/backup"
	"github.com/pairvote/pairvote/internal/duckdb"
	"github.com/pairvote/pairvote/internal/gateway"
	"github.com/pairvote/pairvote/internal/httpserver"
	"github.com/pairvote/pairvote/internal/ingest"
	"github.com/pairvote/pairvote/internal/journal"
	"github.com/pairvote/pairvote/internal/model"
	"github.com/pairvote/pairvote/internal/resolver"
	"github.com/pairvote/pairvote/internal/socketrpc"
	"github.com/pairvote/pairvote/internal/stack"
	"github.com/pairvote/pairvote/internal/supplier"
	"github.com/pairvote/pairvote/internal/votes"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"
)

// rpcBackend bundles the read surfaces the dashboard polls over the unix
// socket. Store queries come straight from DuckDB; stack and gateway state
// come from the live in-process components.
type rpcBackend struct {
	*duckdb.Store
	stack    *stack.Manager
	registry *gateway.Registry
}

func (b *rpcBackend) StackSnapshot() model.StackSnapshot { return b.stack.Snapshot() }
func (b *rpcBackend) GatewayStats() []model.GatewayStat  { return b.registry.Stats() }
func (b *rpcBackend) Reset() error                       { return b.stack.Reset() }

// runServer starts the matchup delivery service: catalog ingestion, the
// session stack, the HTTP API, and the dashboard socket.
func runServer(cfg appConfig) error {
	cleanupLogger := configureRuntimeLogger()
	defer cleanupLogger()

	store, err := duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
	if err != nil {
		return fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	defer store.Close()

	// Gateway registry, seeded with success counters from previous runs so
	// ranking survives restarts.
	registry := gateway.NewRegistry(cfg.Gateways)
	persisted, err := store.LoadGatewayStats()
	if err != nil {
		log.Printf("gateway: loading persisted stats: %v", err)
	}
	for baseURL, count := range persisted {
		registry.SetSuccessCount(baseURL, count)
	}

	imageResolver := resolver.New(registry, resolver.Config{
		MaxAttempts:    cfg.MaxAttempts,
		AttemptTimeout: cfg.AttemptTimeout,
	})

	// Vote durability: synchronous journal append, batched DuckDB flush.
	var voteJournal *journal.Journal
	if cfg.JournalEnabled {
		voteJournal, err = journal.Open(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to open vote journal: %w", err)
		}
	}
	recorder, err := votes.NewRecorder(store, votes.Config{
		BatchSize:     cfg.VoteBatchSize,
		FlushInterval: cfg.VoteFlushInterval,
		Journal:       voteJournal,
	})
	if err != nil {
		return fmt.Errorf("failed to start vote recorder: %w", err)
	}
	defer recorder.Stop()

	catalog := supplier.NewCatalog(store, cfg.Collection)

	manager := stack.NewManager(catalog, imageResolver, stack.Config{
		Depth:           cfg.StackDepth,
		TransitionDelay: cfg.TransitionDelay,
		RefillInterval:  cfg.RefillInterval,
		Votes:           recorder,
		OnDiscard: func(d model.DiscardRecord) {
			if err := store.InsertDiscard(&d); err != nil {
				log.Printf("discard telemetry: %v", err)
			}
		},
	})
	defer manager.Close()

	// Create insert buffer for batched catalog writes
	insertBuffer := duckdb.NewInsertBuffer(store, duckdb.InsertBufferConfig{
		BatchSize:      cfg.InsertBatchSize,
		FlushInterval:  cfg.InsertFlushInterval,
		FlushQueueSize: cfg.InsertFlushQueue,
	})
	defer insertBuffer.Stop()

	// Start retention cleaner for automatic discard-telemetry expiry
	retentionCleaner := duckdb.NewRetentionCleaner(store, duckdb.RetentionConfig{
		RetentionDays: cfg.DiscardRetention,
	})
	if retentionCleaner != nil {
		defer retentionCleaner.Stop()
	}

	// Start periodic backups when enabled.
	backupManager, err := backup.NewManager(store, backup.Config{
		Enabled:        cfg.BackupEnabled,
		Interval:       cfg.BackupInterval,
		LocalDir:       cfg.BackupLocalDir,
		KeepLast:       cfg.BackupKeepLast,
		BucketURL:      cfg.BackupBucketURL,
		S3Endpoint:     cfg.BackupS3Endpoint,
		S3Region:       cfg.BackupS3Region,
		S3AccessKey:    cfg.BackupS3AccessKey,
		S3SecretKey:    cfg.BackupS3SecretKey,
		S3SessionToken: cfg.BackupS3SessionToken,
		S3UseSSL:       cfg.BackupS3UseSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize backups: %w", err)
	}
	if backupManager != nil {
		defer backupManager.Stop()
	}

	// Start HTTP API server if enabled
	if cfg.APIEnabled {
		apiServer := httpserver.NewServer(cfg.APIAddr, manager, store, registry)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	// Start socket RPC server for dashboard IPC
	sockServer := socketrpc.NewServer(cfg.SocketPath, &rpcBackend{
		Store:    store,
		stack:    manager,
		registry: registry,
	})
	if err := sockServer.Start(); err != nil {
		log.Printf("Warning: failed to start socket server: %v", err)
	} else {
		defer sockServer.Stop()
	}

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now — not at boot.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		cleanupSocket(cfg.SocketPath)
		os.Exit(1)
	}()

	// Build input plugins and source multiplexer
	plugins := buildInputPlugins(InputPluginConfig{
		TCPEnabled: cfg.TCPEnabled,
		TCPAddr:    cfg.TCPAddr,
	})

	sources := make([]NamedFeedSource, 0, len(plugins))
	for _, plugin := range plugins {
		if !plugin.Enabled() {
			continue
		}
		src, err := plugin.Build(ctx)
		if err != nil {
			log.Printf("Error initializing input plugin %q: %v", plugin.Name(), err)
			continue
		}
		sources = append(sources, src)
	}

	mux := NewSourceMultiplexer(ctx, sources, cfg.MuxBufferSize)
	mux.Start()

	processor := ingest.NewEnvelopeProcessor(insertBuffer, "")

	printStartupBanner(cfg, registry.Len(), processor.Name())

	// Build the initial stack. An empty catalog is not fatal: the refill
	// loop keeps pulling as feed records arrive.
	if err := manager.Initialize(ctx); err != nil {
		log.Printf("stack: initialize: %v", err)
	}

	// Use errgroup for concurrent goroutine lifecycle management.
	g, gctx := errgroup.WithContext(ctx)

	// Ingestion loop
	if mux.HasSources() {
		g.Go(func() error {
			for env := range mux.Lines() {
				processor.ProcessEnvelope(env)
			}
			return nil
		})
	}

	// Periodic persistence of gateway success counters.
	g.Go(func() error {
		interval := cfg.GatewayPersistInterval
		if interval <= 0 {
			interval = defaultGatewayPersist
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				persistGatewayStats(store, registry)
			case <-gctx.Done():
				return nil
			}
		}
	})

	// Wait for context cancellation (from signal handler) in the errgroup
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	// Wait for either signal or all sources to close.
	if err := g.Wait(); err != nil {
		log.Printf("server: errgroup exited with error: %v", err)
	}

	cancel()
	mux.Stop()
	persistGatewayStats(store, registry)

	// If we reach here, graceful shutdown succeeded within the deadline.
	// The signal goroutine (if active) dies with the process.
	signal.Stop(sigCh)

	return nil
}

func persistGatewayStats(store *duckdb.Store, registry *gateway.Registry) {
	if err := store.UpsertGatewayStats(registry.Stats()); err != nil {
		log.Printf("gateway: persisting stats: %v", err)
	}
}

func cleanupSocket(path string) {
	if path != "" {
		os.Remove(path)
	}
}

func configureRuntimeLogger() func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	home, err := os.UserHomeDir()
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logDir := filepath.Join(home, ".local", "state", "pairvote")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logPath := filepath.Join(logDir, "pairvote.log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	log.SetOutput(f)
	return func() {
		_ = f.Close()
	}
}

func printStartupBanner(cfg appConfig, gatewayCount int, processorName string) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╔═╗╔═╗╦╦═╗╦  ╦╔═╗╔╦╗╔═╗
    ╠═╝╠═╣║╠╦╝╚╗╔╝║ ║ ║ ║╣
    ╩  ╩ ╩╩╩╚═ ╚╝ ╚═╝ ╩ ╚═╝`)

	ver := dim.Render("v" + version)

	var lines []string
	lines = append(lines, "")
	lines = append(lines, logo)
	lines = append(lines, "    "+ver)
	lines = append(lines, "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator)
	lines = append(lines, "")

	// Gateway
	lines = append(lines, bold.Render("    Gateway"))
	lines = append(lines, "")

	if cfg.APIEnabled {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", check, cyan.Render(cfg.APIAddr)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", dot, dim.Render("disabled")))
	}

	if cfg.TCPEnabled {
		lines = append(lines, fmt.Sprintf("    %s  TCP Feed       %s", check, cyan.Render(cfg.TCPAddr)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  TCP Feed       %s", dot, dim.Render("disabled")))
	}

	lines = append(lines, fmt.Sprintf("    %s  Unix Socket    %s", check, cyan.Render(shortenPath(cfg.SocketPath))))
	lines = append(lines, "")

	// Storage
	lines = append(lines, bold.Render("    Storage"))
	lines = append(lines, "")

	lines = append(lines, fmt.Sprintf("    %s  Database       %s", check, dim.Render(shortenPath(cfg.DBPath))))
	if cfg.JournalEnabled {
		lines = append(lines, fmt.Sprintf("    %s  Vote Journal   %s", check, dim.Render(shortenPath(cfg.JournalPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Vote Journal   %s", dot, dim.Render("disabled")))
	}
	if cfg.BackupEnabled {
		lines = append(lines, fmt.Sprintf("    %s  Snapshots      %s", check, dim.Render(shortenPath(cfg.BackupLocalDir))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Snapshots      %s", dot, dim.Render("disabled")))
	}

	lines = append(lines, "")

	// Runtime
	lines = append(lines, bold.Render("    Runtime"))
	lines = append(lines, "")

	lines = append(lines, fmt.Sprintf("    %s  Stack Depth    %s", check, dim.Render(fmt.Sprintf("%d", cfg.StackDepth))))
	lines = append(lines, fmt.Sprintf("    %s  Gateways       %s", check, dim.Render(fmt.Sprintf("%d endpoints", gatewayCount))))
	lines = append(lines, fmt.Sprintf("    %s  Feed Format    %s", check, dim.Render(processorName)))
	if cfg.Collection != "" {
		lines = append(lines, fmt.Sprintf("    %s  Collection     %s", check, dim.Render(cfg.Collection)))
	}

	lines = append(lines, "")
	lines = append(lines, bold.Render("    Config"))
	lines = append(lines, "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}

	lines = append(lines, "")
	lines = append(lines, separator)
	lines = append(lines, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"))
	lines = append(lines, "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
