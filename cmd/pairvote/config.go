package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pairvote/pairvote/internal/model"

	"gopkg.in/yaml.v3"
)

const (
	defaultBindHost            = "127.0.0.1"
	defaultTCPPort             = 4100
	defaultAPIPort             = 3000
	defaultMuxBufferSize       = DefaultMuxBuffer
	defaultQueryTimeout        = 30 * time.Second
	defaultInsertBatchSize     = 500
	defaultInsertFlushInterval = 250 * time.Millisecond
	defaultInsertFlushQueue    = 64
	defaultVoteBatchSize       = 50
	defaultVoteFlushInterval   = 200 * time.Millisecond
	defaultDiscardRetention    = 30 // days, 0 = disabled
	defaultGatewayPersist      = 30 * time.Second
	defaultBackupInterval      = 6 * time.Hour
	defaultBackupKeepLast      = 24

	defaultStackDepth      = model.DefaultStackDepth
	defaultMaxAttempts     = model.DefaultMaxAttempts
	defaultAttemptTimeout  = model.DefaultAttemptTimeout
	defaultTransitionDelay = model.DefaultTransitionDelay
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	StackDepth      int           `mapstructure:"stack-depth"`
	MaxAttempts     int           `mapstructure:"max-attempts"`
	AttemptTimeout  time.Duration `mapstructure:"attempt-timeout"`
	TransitionDelay time.Duration `mapstructure:"transition-delay"`
	RefillInterval  time.Duration `mapstructure:"refill-interval"`
	Collection      string        `mapstructure:"collection"`

	Gateways     []string `mapstructure:"gateways"`
	GatewaysFile string   `mapstructure:"gateways-file"`

	Host          string `mapstructure:"host"`
	TCPEnabled    bool   `mapstructure:"tcp-enabled"`
	TCPPort       int    `mapstructure:"tcp-port"`
	TCPAddr       string `mapstructure:"tcp-addr"`
	MuxBufferSize int    `mapstructure:"mux-buffer-size"`

	APIEnabled bool   `mapstructure:"api-enabled"`
	APIPort    int    `mapstructure:"api-port"`
	APIAddr    string `mapstructure:"api-addr"`

	DBPath       string        `mapstructure:"db-path"`
	QueryTimeout time.Duration `mapstructure:"query-timeout"`

	InsertBatchSize     int           `mapstructure:"insert-batch-size"`
	InsertFlushInterval time.Duration `mapstructure:"insert-flush-interval"`
	InsertFlushQueue    int           `mapstructure:"insert-flush-queue-size"`

	VoteBatchSize     int           `mapstructure:"vote-batch-size"`
	VoteFlushInterval time.Duration `mapstructure:"vote-flush-interval"`

	JournalEnabled bool   `mapstructure:"journal-enabled"`
	JournalPath    string `mapstructure:"journal-path"`

	SocketPath string `mapstructure:"socket-path"`

	DiscardRetention       int           `mapstructure:"discard-retention"`
	GatewayPersistInterval time.Duration `mapstructure:"gateway-persist-interval"`

	BackupEnabled        bool          `mapstructure:"backup-enabled"`
	BackupInterval       time.Duration `mapstructure:"backup-interval"`
	BackupLocalDir       string        `mapstructure:"backup-local-dir"`
	BackupKeepLast       int           `mapstructure:"backup-keep-last"`
	BackupBucketURL      string        `mapstructure:"backup-bucket-url"`
	BackupS3Endpoint     string        `mapstructure:"backup-s3-endpoint"`
	BackupS3Region       string        `mapstructure:"backup-s3-region"`
	BackupS3AccessKey    string        `mapstructure:"backup-s3-access-key"`
	BackupS3SecretKey    string        `mapstructure:"backup-s3-secret-key"`
	BackupS3SessionToken string        `mapstructure:"backup-s3-session-token"`
	BackupS3UseSSL       bool          `mapstructure:"backup-s3-use-ssl"`

	ConfigPath string `mapstructure:"-"` // not from config file
}

// gatewayFile is the YAML shape of an external gateway list. It lets
// operators ship a curated endpoint order without touching the main config.
type gatewayFile struct {
	Gateways []string `yaml:"gateways"`
}

// loadGatewaysFile reads an external YAML gateway list and appends any
// endpoints not already present in the inline list.
func loadGatewaysFile(path string, inline []string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gateways-file: %w", err)
	}

	var parsed gatewayFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse gateways-file: %w", err)
	}

	seen := make(map[string]bool, len(inline))
	merged := make([]string, 0, len(inline)+len(parsed.Gateways))
	for _, u := range inline {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		merged = append(merged, u)
	}
	for _, u := range parsed.Gateways {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		merged = append(merged, u)
	}
	return merged, nil
}
