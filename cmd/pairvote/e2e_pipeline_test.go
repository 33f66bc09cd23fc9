package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pairvote/pairvote/internal/duckdb"
	"github.com/pairvote/pairvote/internal/feedsource"
	"github.com/pairvote/pairvote/internal/gateway"
	"github.com/pairvote/pairvote/internal/httpserver"
	"github.com/pairvote/pairvote/internal/ingest"
	"github.com/pairvote/pairvote/internal/model"
	"github.com/pairvote/pairvote/internal/resolver"
	"github.com/pairvote/pairvote/internal/socketrpc"
	"github.com/pairvote/pairvote/internal/stack"
	"github.com/pairvote/pairvote/internal/supplier"
	"github.com/pairvote/pairvote/internal/tcpserver"
	"github.com/pairvote/pairvote/internal/votes"
)

// instantResolver marks every image loaded without touching the network.
type instantResolver struct{}

func (instantResolver) Resolve(_ context.Context, ref model.ImageRef) *resolver.LoadState {
	return &resolver.LoadState{
		Ref:      ref,
		Attempts: 1,
		Outcome:  resolver.Loaded,
		URL:      "https://ipfs.io/ipfs/" + ref.CID,
		Gateway:  "https://ipfs.io",
	}
}

type e2eStack struct {
	store    *duckdb.Store
	insert   *duckdb.InsertBuffer
	manager  *stack.Manager
	recorder *votes.Recorder
	api      *httpserver.Server
	socket   *socketrpc.Server
	tcp      *tcpserver.Server
	apiAddr  string
	sock     string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func startE2EStack(t *testing.T) *e2eStack {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "pairvote-e2e.duckdb")
	store, err := duckdb.NewStore(dbPath, 5*time.Second)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	insert := duckdb.NewInsertBuffer(store, duckdb.InsertBufferConfig{
		BatchSize:     256,
		FlushInterval: 20 * time.Millisecond,
	})

	recorder, err := votes.NewRecorder(store, votes.Config{
		BatchSize:     16,
		FlushInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	registry := gateway.NewRegistry(nil)
	catalog := supplier.NewCatalog(store, "")
	manager := stack.NewManager(catalog, instantResolver{}, stack.Config{
		Depth:           3,
		TransitionDelay: 5 * time.Millisecond,
		RefillInterval:  25 * time.Millisecond,
		Votes:           recorder,
	})

	api := httpserver.NewServer("127.0.0.1:0", manager, store, registry)
	if err := api.Start(); err != nil {
		t.Fatalf("http Start: %v", err)
	}

	sock := filepath.Join(os.TempDir(), fmt.Sprintf("pairvote-e2e-%d.sock", time.Now().UnixNano()))
	socket := socketrpc.NewServer(sock, &rpcBackend{
		Store:    store,
		stack:    manager,
		registry: registry,
	})
	if err := socket.Start(); err != nil {
		t.Fatalf("socket Start: %v", err)
	}

	tcp := tcpserver.NewServer("127.0.0.1:0")
	if err := tcp.Start(); err != nil {
		t.Fatalf("tcp Start: %v", err)
	}
	source := feedsource.NewTCPSource(tcp)

	processor := ingest.NewEnvelopeProcessor(insert, "tcp")
	ctx, cancel := context.WithCancel(context.Background())
	st := &e2eStack{
		store:    store,
		insert:   insert,
		manager:  manager,
		recorder: recorder,
		api:      api,
		socket:   socket,
		tcp:      tcp,
		apiAddr:  api.Addr(),
		sock:     sock,
		cancel:   cancel,
	}

	st.wg.Add(1)
	go func() {
		defer st.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-source.Lines():
				if !ok {
					return
				}
				processor.ProcessEnvelope(env)
			}
		}
	}()

	t.Cleanup(func() {
		st.cancel()
		source.Stop()
		st.wg.Wait()
		st.manager.Close()
		st.insert.Stop()
		st.recorder.Stop()
		st.socket.Stop()
		_ = st.api.Stop()
		_ = st.store.Close()
	})

	return st
}

func waitEventually(t *testing.T, timeout, interval time.Duration, condition func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if condition() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("eventually timeout: %s", msg)
		}
		time.Sleep(interval)
	}
}

func sendTCPLines(t *testing.T, addr string, lines []string) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		t.Fatalf("dial tcp %s: %v", addr, err)
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	w := bufio.NewWriterSize(conn, 256*1024)
	for _, line := range lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			t.Fatalf("write line: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func generateFeedBurst(n int, collection string) []string {
	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		lines = append(lines, fmt.Sprintf(
			`{"token_id":"%s-%d","collection":"%s","name":"Item #%d","image":{"cid":"Qm%044d"}}`,
			collection, i, collection, i, i,
		))
	}
	return lines
}

func waitForCatalogCount(t *testing.T, store *duckdb.Store, expected int64, timeout time.Duration) {
	t.Helper()
	waitEventually(t, timeout, 20*time.Millisecond, func() bool {
		got, err := store.CatalogCount(model.QueryOpts{})
		return err == nil && got == expected
	}, fmt.Sprintf("expected catalog count %d", expected))
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if resp.StatusCode == http.StatusOK && out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("unmarshal %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body interface{}) int {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func TestE2E_FeedToMatchupToVote(t *testing.T) {
	st := startE2EStack(t)

	sendTCPLines(t, st.tcp.Addr(), generateFeedBurst(10, "apes"))
	waitForCatalogCount(t, st.store, 10, 8*time.Second)

	if err := st.manager.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	matchupURL := "http://" + st.apiAddr + "/api/matchup"
	var view stack.ActiveView
	waitEventually(t, 5*time.Second, 25*time.Millisecond, func() bool {
		return getJSON(t, matchupURL, &view) == http.StatusOK
	}, "active matchup never became ready")

	if view.LeftURL == "" || view.RightURL == "" {
		t.Fatalf("matchup served without resolved image URLs: %+v", view)
	}
	if view.Session.Left.TokenID == view.Session.Right.TokenID {
		t.Fatalf("matchup pairs the same token: %+v", view.Session)
	}

	code := postJSON(t, "http://"+st.apiAddr+"/api/vote", map[string]interface{}{
		"winner_id":  view.Session.Left.TokenID,
		"super_vote": true,
	})
	if code != http.StatusOK {
		t.Fatalf("vote status = %d", code)
	}

	client, err := socketrpc.Dial(st.sock)
	if err != nil {
		t.Fatalf("socket dial: %v", err)
	}
	defer client.Close()

	waitEventually(t, 5*time.Second, 25*time.Millisecond, func() bool {
		totals, err := client.VoteTotals()
		return err == nil && totals.Total == 1 && totals.Super == 1
	}, "vote never reached storage")

	snap, err := client.StackSnapshot()
	if err != nil {
		t.Fatalf("StackSnapshot: %v", err)
	}
	if snap.Consumed != 1 {
		t.Errorf("consumed = %d, want 1", snap.Consumed)
	}

	// The winner's counters are updated by the batched vote flush.
	waitEventually(t, 5*time.Second, 25*time.Millisecond, func() bool {
		top, err := client.TopNFTs(1, model.QueryOpts{})
		return err == nil && len(top) == 1 && top[0].Wins == 1
	}, "winner counters never updated")
}

func TestE2E_BurstIngest_NoLoss(t *testing.T) {
	st := startE2EStack(t)

	const total = 5000
	sendTCPLines(t, st.tcp.Addr(), generateFeedBurst(total, "burst"))
	waitForCatalogCount(t, st.store, total, 20*time.Second)

	rows, err := st.store.ExecuteQuery("SELECT COUNT(*) AS c FROM nfts")
	if err != nil {
		t.Fatalf("ExecuteQuery: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestE2E_ConcurrentReadsDuringIngest(t *testing.T) {
	st := startE2EStack(t)

	const total = 2000
	var wg sync.WaitGroup
	errCh := make(chan error, 32)

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client, err := socketrpc.Dial(st.sock)
			if err != nil {
				errCh <- fmt.Errorf("socket dial: %w", err)
				return
			}
			defer client.Close()
			for j := 0; j < 60; j++ {
				if _, err := client.CatalogCount(model.QueryOpts{}); err != nil {
					errCh <- fmt.Errorf("socket count: %w", err)
					return
				}
				if _, err := client.GatewayStats(); err != nil {
					errCh <- fmt.Errorf("socket gateways: %w", err)
					return
				}
			}
		}()
	}

	sendTCPLines(t, st.tcp.Addr(), generateFeedBurst(total, "concurrency"))
	waitForCatalogCount(t, st.store, total, 20*time.Second)

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("concurrent read failure: %v", err)
		}
	}
}
