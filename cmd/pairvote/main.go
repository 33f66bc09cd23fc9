package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pairvote/pairvote/internal/socketrpc"

	"github.com/spf13/viper"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var configPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/pairvote/config.yml)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("PairVote - Matchup Delivery Service\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := runServer(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	defaultDBPath := filepath.Join(home, ".local", "share", "pairvote", "pairvote.duckdb")
	defaultJournalPath := filepath.Join(home, ".local", "share", "pairvote", "votes.journal")

	v := viper.New()
	v.SetEnvPrefix("PAIRVOTE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("stack-depth", defaultStackDepth)
	v.SetDefault("max-attempts", defaultMaxAttempts)
	v.SetDefault("attempt-timeout", defaultAttemptTimeout)
	v.SetDefault("transition-delay", defaultTransitionDelay)
	v.SetDefault("tcp-enabled", true)
	v.SetDefault("tcp-port", defaultTCPPort)
	v.SetDefault("mux-buffer-size", defaultMuxBufferSize)
	v.SetDefault("api-enabled", true)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("db-path", defaultDBPath)
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("insert-batch-size", defaultInsertBatchSize)
	v.SetDefault("insert-flush-interval", defaultInsertFlushInterval)
	v.SetDefault("insert-flush-queue-size", defaultInsertFlushQueue)
	v.SetDefault("vote-batch-size", defaultVoteBatchSize)
	v.SetDefault("vote-flush-interval", defaultVoteFlushInterval)
	v.SetDefault("journal-enabled", true)
	v.SetDefault("journal-path", defaultJournalPath)
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())
	v.SetDefault("discard-retention", defaultDiscardRetention)
	v.SetDefault("gateway-persist-interval", defaultGatewayPersist)
	v.SetDefault("backup-enabled", false)
	v.SetDefault("backup-interval", defaultBackupInterval)
	v.SetDefault("backup-local-dir", filepath.Join(home, ".local", "share", "pairvote", "backups"))
	v.SetDefault("backup-keep-last", defaultBackupKeepLast)
	v.SetDefault("backup-s3-use-ssl", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "pairvote", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()

	if cfg.TCPPort <= 0 || cfg.TCPPort > 65535 {
		return cfg, fmt.Errorf("invalid tcp-port: %d", cfg.TCPPort)
	}
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return cfg, fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}
	if cfg.StackDepth <= 0 {
		return cfg, fmt.Errorf("invalid stack-depth: %d", cfg.StackDepth)
	}
	if cfg.BackupEnabled {
		if cfg.BackupInterval <= 0 {
			return cfg, fmt.Errorf("invalid backup-interval: %s", cfg.BackupInterval)
		}
		if cfg.BackupKeepLast <= 0 {
			return cfg, fmt.Errorf("invalid backup-keep-last: %d", cfg.BackupKeepLast)
		}
		if cfg.BackupBucketURL != "" && (cfg.BackupS3AccessKey == "" || cfg.BackupS3SecretKey == "") {
			return cfg, fmt.Errorf("backup-s3-access-key and backup-s3-secret-key are required with backup-bucket-url")
		}
	}

	// Expand ~ in filesystem paths
	for _, p := range []*string{&cfg.DBPath, &cfg.JournalPath, &cfg.BackupLocalDir, &cfg.GatewaysFile} {
		if strings.HasPrefix(*p, "~/") {
			*p = filepath.Join(home, (*p)[2:])
		}
	}

	if cfg.GatewaysFile != "" {
		merged, err := loadGatewaysFile(cfg.GatewaysFile, cfg.Gateways)
		if err != nil {
			return cfg, err
		}
		cfg.Gateways = merged
	}

	if cfg.Host == "" {
		cfg.Host = defaultBindHost
	}
	if cfg.TCPAddr == "" {
		cfg.TCPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.TCPPort))
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.APIPort))
	}

	return cfg, nil
}
