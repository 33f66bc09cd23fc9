package tui

import (
	"strings"
	"testing"
	"time"
)

func TestView_RequiresSize(t *testing.T) {
	m := NewDashboardModel(&fakeClient{}, time.Second)
	if got := m.View(); !strings.Contains(got, "Initializing") {
		t.Errorf("View() before size = %q", got)
	}

	m.width, m.height = 50, 10
	if got := m.View(); !strings.Contains(got, "too small") {
		t.Errorf("View() on tiny terminal = %q", got)
	}
}

func TestView_ShowsPanels(t *testing.T) {
	m := NewDashboardModel(&fakeClient{}, time.Second)
	m.width, m.height = 120, 40
	runTick(t, m)

	out := m.View()
	for _, want := range []string{
		"Session Stack",
		"Gateway Ranking",
		"Vote Activity",
		"Recent Votes",
		"Top NFTs",
		"ipfs.io",
		"Ape #7",
		"session-aa11",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestView_StatusLineShowsError(t *testing.T) {
	m := NewDashboardModel(&fakeClient{}, time.Second)
	m.width, m.height = 120, 40
	m.lastError = "stack: socket closed"

	if out := m.View(); !strings.Contains(out, "socket closed") {
		t.Error("View() does not surface the last RPC error")
	}
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly-ten", 11, "exactly-ten"},
		{"a-rather-long-identifier", 10, "a-rathe..."},
		{"abc", 3, "abc"},
		{"abcd", 3, "abc"},
	}
	for _, tc := range cases {
		if got := truncate(tc.in, tc.max); got != tc.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}
