package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pairvote/pairvote/internal/feedsource"
	"github.com/pairvote/pairvote/internal/tcpserver"
)

// NamedFeedSource aliases the shared source abstraction to keep app-layer APIs explicit.
type NamedFeedSource = feedsource.FeedSource

// InputSourcePlugin is a small plugin primitive for wiring catalog feed inputs.
type InputSourcePlugin interface {
	Name() string
	Enabled() bool
	Build(ctx context.Context) (NamedFeedSource, error)
}

// InputPluginConfig defines runtime input selection.
type InputPluginConfig struct {
	TCPEnabled bool
	TCPAddr    string
}

func buildInputPlugins(cfg InputPluginConfig) []InputSourcePlugin {
	plugins := make([]InputSourcePlugin, 0, 2)
	plugins = append(plugins, tcpInputPlugin{
		addr:    cfg.TCPAddr,
		enabled: cfg.TCPEnabled,
	})
	plugins = append(plugins, stdinInputPlugin{})
	return plugins
}

type tcpInputPlugin struct {
	addr    string
	enabled bool
}

func (p tcpInputPlugin) Name() string { return "tcp" }

func (p tcpInputPlugin) Enabled() bool { return p.enabled }

func (p tcpInputPlugin) Build(_ context.Context) (NamedFeedSource, error) {
	server := tcpserver.NewServer(p.addr)
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("start tcp server: %w", err)
	}
	return feedsource.NewTCPSource(server), nil
}

type stdinInputPlugin struct{}

func (p stdinInputPlugin) Name() string { return "stdin" }

func (p stdinInputPlugin) Enabled() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

func (p stdinInputPlugin) Build(ctx context.Context) (NamedFeedSource, error) {
	return feedsource.NewStdinSource(ctx), nil
}
