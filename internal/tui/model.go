// Package tui renders the terminal dashboard for a running pairvote
// service. It polls the daemon over the unix socket RPC and never touches
// the database directly.
package tui

import (
	"time"

	"github.com/pairvote/pairvote/internal/model"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
)

// StatsClient is the RPC surface the dashboard polls each tick. Implemented
// by socketrpc.Client.
type StatsClient interface {
	StackSnapshot() (model.StackSnapshot, error)
	GatewayStats() ([]model.GatewayStat, error)
	VoteTotals() (model.VoteTotals, error)
	DiscardCount() (int64, error)
	CatalogCount(opts model.QueryOpts) (int64, error)
	RecentVotes(limit int) ([]model.VoteRecord, error)
	TopNFTs(limit int, opts model.QueryOpts) ([]model.NFT, error)
	Reset() error
}

const (
	recentVotesLimit = 8
	leaderboardLimit = 5

	// rateHistorySize bounds the per-tick vote delta window used by the
	// activity chart.
	rateHistorySize = 120
)

// DashboardModel is the bubbletea model for the dashboard.
type DashboardModel struct {
	client         StatsClient
	updateInterval time.Duration

	width  int
	height int

	tickInFlight bool

	snapshot     model.StackSnapshot
	gateways     []model.GatewayStat
	totals       model.VoteTotals
	discards     int64
	catalogCount int64
	recent       []model.VoteRecord
	top          []model.NFT

	// rateHistory holds votes-per-tick deltas, newest last.
	rateHistory   []int
	lastVoteTotal int64
	haveLastTotal bool

	gatewayTable table.Model

	lastError  string
	statusNote string
	connected  bool
}

// NewDashboardModel builds the dashboard around a connected stats client.
func NewDashboardModel(client StatsClient, updateInterval time.Duration) *DashboardModel {
	if updateInterval <= 0 {
		updateInterval = model.DefaultUpdateInterval
	}

	columns := []table.Column{
		{Title: "#", Width: 3},
		{Title: "Gateway", Width: 36},
		{Title: "Successes", Width: 10},
	}
	gw := table.New(
		table.WithColumns(columns),
		table.WithHeight(6),
		table.WithFocused(false),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(ColorWhite)
	styles.Selected = styles.Selected.Foreground(ColorWhite)
	gw.SetStyles(styles)

	return &DashboardModel{
		client:         client,
		updateInterval: updateInterval,
		gatewayTable:   gw,
	}
}

// Init kicks off the periodic refresh.
func (m *DashboardModel) Init() tea.Cmd {
	return tea.Batch(
		func() tea.Msg { return TickMsg(time.Now()) },
	)
}
