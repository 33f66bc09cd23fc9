package tui

import (
	"fmt"
	"time"

	"github.com/pairvote/pairvote/internal/model"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
)

// TickMsg drives the periodic refresh.
type TickMsg time.Time

type tickDataLoadedMsg struct {
	snapshot    model.StackSnapshot
	hasSnapshot bool

	gateways    []model.GatewayStat
	hasGateways bool

	totals    model.VoteTotals
	hasTotals bool

	discards    int64
	hasDiscards bool

	catalogCount    int64
	hasCatalogCount bool

	recent    []model.VoteRecord
	hasRecent bool

	top    []model.NFT
	hasTop bool

	lastError string // first RPC error encountered during this tick
}

type resetDoneMsg struct {
	err error
}

// Update handles messages.
func (m *DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			m.statusNote = "resetting stack..."
			return m, m.resetCmd()
		}

	case TickMsg:
		if m.tickInFlight {
			return m, m.scheduleTick()
		}
		m.tickInFlight = true
		return m, tea.Batch(m.fetchTickDataCmd(), m.scheduleTick())

	case tickDataLoadedMsg:
		m.tickInFlight = false
		m.applyTickData(msg)

	case resetDoneMsg:
		if msg.err != nil {
			m.statusNote = ""
			m.lastError = fmt.Sprintf("reset: %v", msg.err)
		} else {
			m.statusNote = "stack reset"
		}
	}

	return m, nil
}

func (m *DashboardModel) scheduleTick() tea.Cmd {
	return tea.Tick(m.updateInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// fetchTickDataCmd gathers everything the panels show in one background
// command so a slow socket never blocks key handling.
func (m *DashboardModel) fetchTickDataCmd() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		var loaded tickDataLoadedMsg
		recordErr := func(what string, err error) {
			if loaded.lastError == "" {
				loaded.lastError = fmt.Sprintf("%s: %v", what, err)
			}
		}

		if snap, err := client.StackSnapshot(); err != nil {
			recordErr("stack", err)
		} else {
			loaded.snapshot = snap
			loaded.hasSnapshot = true
		}

		if gws, err := client.GatewayStats(); err != nil {
			recordErr("gateways", err)
		} else {
			loaded.gateways = gws
			loaded.hasGateways = true
		}

		if totals, err := client.VoteTotals(); err != nil {
			recordErr("votes", err)
		} else {
			loaded.totals = totals
			loaded.hasTotals = true
		}

		if n, err := client.DiscardCount(); err != nil {
			recordErr("discards", err)
		} else {
			loaded.discards = n
			loaded.hasDiscards = true
		}

		if n, err := client.CatalogCount(model.QueryOpts{}); err != nil {
			recordErr("catalog", err)
		} else {
			loaded.catalogCount = n
			loaded.hasCatalogCount = true
		}

		if votes, err := client.RecentVotes(recentVotesLimit); err != nil {
			recordErr("recent votes", err)
		} else {
			loaded.recent = votes
			loaded.hasRecent = true
		}

		if top, err := client.TopNFTs(leaderboardLimit, model.QueryOpts{}); err != nil {
			recordErr("leaderboard", err)
		} else {
			loaded.top = top
			loaded.hasTop = true
		}

		return loaded
	}
}

func (m *DashboardModel) resetCmd() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		return resetDoneMsg{err: client.Reset()}
	}
}

func (m *DashboardModel) applyTickData(msg tickDataLoadedMsg) {
	m.lastError = msg.lastError
	m.connected = msg.lastError == ""

	if msg.hasSnapshot {
		m.snapshot = msg.snapshot
	}
	if msg.hasGateways {
		m.gateways = msg.gateways
		m.refreshGatewayTable()
	}
	if msg.hasTotals {
		m.totals = msg.totals
		m.pushRateSample(msg.totals.Total)
	}
	if msg.hasDiscards {
		m.discards = msg.discards
	}
	if msg.hasCatalogCount {
		m.catalogCount = msg.catalogCount
	}
	if msg.hasRecent {
		m.recent = msg.recent
	}
	if msg.hasTop {
		m.top = msg.top
	}
}

// pushRateSample appends the votes-since-last-tick delta to the activity
// window. The first observation only seeds the baseline.
func (m *DashboardModel) pushRateSample(total int64) {
	if !m.haveLastTotal {
		m.lastVoteTotal = total
		m.haveLastTotal = true
		return
	}
	delta := total - m.lastVoteTotal
	m.lastVoteTotal = total
	if delta < 0 {
		// Counter went backwards (daemon restart with a fresh DB).
		delta = 0
	}
	m.rateHistory = append(m.rateHistory, int(delta))
	if len(m.rateHistory) > rateHistorySize {
		m.rateHistory = m.rateHistory[len(m.rateHistory)-rateHistorySize:]
	}
}

func (m *DashboardModel) refreshGatewayTable() {
	rows := make([]table.Row, 0, len(m.gateways))
	for _, gw := range m.gateways {
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", gw.Rank+1),
			gw.BaseURL,
			fmt.Sprintf("%d", gw.SuccessCount),
		})
	}
	m.gatewayTable.SetRows(rows)
}
