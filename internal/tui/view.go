package tui

import (
	"fmt"
	"strings"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/charmbracelet/lipgloss"
)

// View renders the dashboard.
func (m *DashboardModel) View() string {
	if m.width <= 0 || m.height <= 0 {
		return "Initializing dashboard..."
	}
	if m.height < 20 || m.width < 70 {
		return "Terminal too small. Resize to at least 70x20."
	}

	colGap := 1
	colWidth := (m.width - colGap) / 2

	left := lipgloss.JoinVertical(lipgloss.Left,
		m.renderStackPanel(colWidth),
		m.renderGatewayPanel(colWidth),
	)
	right := lipgloss.JoinVertical(lipgloss.Left,
		m.renderActivityPanel(colWidth),
		m.renderRecentVotesPanel(colWidth),
		m.renderLeaderboardPanel(colWidth),
	)

	body := lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right)

	content := lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		body,
		m.renderStatusLine(),
	)

	return lipgloss.NewStyle().MaxHeight(m.height).MaxWidth(m.width).Render(content)
}

// renderHeader renders "PairVote" with a purple to gold gradient plus the
// connection indicator.
func (m *DashboardModel) renderHeader() string {
	colors := []string{
		"#A24BF5", // P
		"#B04EE0", // a
		"#BE51CB", // i
		"#CC54B6", // r
		"#DA57A1", // V
		"#E85A8C", // o
		"#F65D77", // t
		"#FFD700", // e
	}
	chars := []string{"P", "a", "i", "r", "V", "o", "t", "e"}

	var brand strings.Builder
	for i, ch := range chars {
		brand.WriteString(lipgloss.NewStyle().
			Foreground(lipgloss.Color(colors[i])).
			Bold(true).
			Render(ch))
	}

	dot := lipgloss.NewStyle().Foreground(ColorRed).Render("●")
	if m.connected {
		dot = lipgloss.NewStyle().Foreground(ColorGreen).Render("●")
	}

	info := helpStyle.Render(fmt.Sprintf("  catalog: %d NFTs", m.catalogCount))
	return " " + brand.String() + " " + dot + info
}

func (m *DashboardModel) renderStackPanel(width int) string {
	title := panelTitleStyle.Render("Session Stack")

	var lines []string
	lines = append(lines, fmt.Sprintf("depth     %d / %d", m.snapshot.Depth, m.snapshot.TargetDepth))

	for _, slot := range m.snapshot.Slots {
		state := "loading"
		if slot.Resolved {
			state = "ready"
		}
		if slot.Exiting {
			state = "exiting"
		}
		marker := " "
		if slot.Position == 0 {
			marker = ">"
		}
		line := fmt.Sprintf("%s [%d] %-22s %s", marker, slot.Position, truncate(slot.SessionID, 22), state)
		if slot.Resolved {
			line = lipgloss.NewStyle().Foreground(ColorGreen).Render(line)
		} else {
			line = helpStyle.Render(line)
		}
		lines = append(lines, line)
	}

	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("consumed  %d", m.snapshot.Consumed))
	lines = append(lines, fmt.Sprintf("discarded %d", m.discards))
	lines = append(lines, fmt.Sprintf("votes     %d  (super %d, last hour %d)",
		m.totals.Total, m.totals.Super, m.totals.LastHour))

	body := strings.Join(lines, "\n")
	return sectionStyle.Width(width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}

func (m *DashboardModel) renderGatewayPanel(width int) string {
	title := panelTitleStyle.Render("Gateway Ranking")

	var content string
	if len(m.gateways) == 0 {
		content = helpStyle.Render("No gateways reported")
	} else {
		content = m.gatewayTable.View()
	}

	return sectionStyle.Width(width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, title, content))
}

// renderActivityPanel draws votes-per-tick as a bar chart, newest on the
// right.
func (m *DashboardModel) renderActivityPanel(width int) string {
	title := panelTitleStyle.Render("Vote Activity")

	chartHeight := 6
	chartWidth := width - 6
	if chartWidth < 20 {
		chartWidth = 20
	}

	var content string
	if len(m.rateHistory) == 0 {
		content = helpStyle.Render("No data available")
	} else {
		bc := barchart.New(chartWidth, chartHeight,
			barchart.WithBarGap(0),
			barchart.WithBarWidth(1),
			barchart.WithNoAxis(),
		)

		barStyle := lipgloss.NewStyle().Foreground(ColorBlue).Background(ColorBlue)
		maxBars := chartWidth
		start := 0
		if len(m.rateHistory) > maxBars {
			start = len(m.rateHistory) - maxBars
		}
		for i := len(m.rateHistory) - start; i < maxBars; i++ {
			bc.Push(barchart.BarData{Values: []barchart.BarValue{{Value: 0, Style: barStyle}}})
		}
		for _, v := range m.rateHistory[start:] {
			bc.Push(barchart.BarData{Values: []barchart.BarValue{{Value: float64(v), Style: barStyle}}})
		}
		bc.Draw()
		content = bc.View()
	}

	return sectionStyle.Width(width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, title, content))
}

func (m *DashboardModel) renderRecentVotesPanel(width int) string {
	title := panelTitleStyle.Render("Recent Votes")

	var content string
	if len(m.recent) == 0 {
		content = helpStyle.Render("No votes yet")
	} else {
		var lines []string
		for _, v := range m.recent {
			mark := " "
			if v.SuperVote {
				mark = lipgloss.NewStyle().Foreground(ColorGold).Render("★")
			}
			lines = append(lines, fmt.Sprintf("%s %s  %s over %s",
				mark,
				v.RecordedAt.Local().Format("15:04:05"),
				truncate(v.WinnerID, 18),
				truncate(v.LoserID, 18)))
		}
		content = strings.Join(lines, "\n")
	}

	return sectionStyle.Width(width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, title, content))
}

func (m *DashboardModel) renderLeaderboardPanel(width int) string {
	title := panelTitleStyle.Render("Top NFTs")

	var content string
	if len(m.top) == 0 {
		content = helpStyle.Render("No matchups recorded")
	} else {
		var lines []string
		for i, n := range m.top {
			name := n.Name
			if name == "" {
				name = n.TokenID
			}
			lines = append(lines, fmt.Sprintf("%2d. %-24s %4d wins / %d matchups",
				i+1, truncate(name, 24), n.Wins, n.Matchups))
		}
		content = strings.Join(lines, "\n")
	}

	return sectionStyle.Width(width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, title, content))
}

func (m *DashboardModel) renderStatusLine() string {
	left := " q: quit  r: reset stack"
	if m.statusNote != "" {
		left += "  |  " + m.statusNote
	}

	right := ""
	if m.lastError != "" {
		right = errorStyle.Render(truncate(m.lastError, m.width/2)) + " "
	}

	pad := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if pad < 1 {
		pad = 1
	}
	return statusLineStyle.Width(m.width).Render(left + strings.Repeat(" ", pad) + right)
}

func truncate(s string, max int) string {
	if max <= 3 || len(s) <= max {
		if len(s) > max && max > 0 {
			return s[:max]
		}
		return s
	}
	return s[:max-3] + "..."
}
