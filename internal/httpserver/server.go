// Package httpserver exposes the voting API consumed by the browser client.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pairvote/pairvote/internal/model"
	"github.com/pairvote/pairvote/internal/stack"
)

// StackController is the narrow stack contract required by the HTTP API.
type StackController interface {
	ActiveMatchup() (stack.ActiveView, bool)
	Consume(winnerID string, superVote bool) error
	Discard() error
	Snapshot() model.StackSnapshot
}

// QueryStore is the narrow store contract required by the HTTP API.
type QueryStore interface {
	model.StatsQuerier
	ExecuteQuery(query string) ([]map[string]interface{}, error)
	GetSchemaDescription() string
	TableRowCounts() (map[string]int64, error)
}

// GatewayReporter exposes the current gateway ranking.
type GatewayReporter interface {
	Stats() []model.GatewayStat
}

// Server provides the HTTP voting and stats API.
type Server struct {
	addr      string
	stk       StackController
	store     QueryStore
	gateways  GatewayReporter
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, stk StackController, store QueryStore, gateways GatewayReporter) *Server {
	if addr == "" {
		addr = "0.0.0.0:3000"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:     addr,
		stk:      stk,
		store:    store,
		gateways: gateways,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	s.registerRoutes(r)

	s.server = &http.Server{
		Handler:           r,
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.startTime = time.Now()

	go s.server.Serve(listener)
	return nil
}

// Addr returns the bound listen address once started. Useful when the
// configured address uses port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

func (s *Server) registerRoutes(r *gin.Engine) {
	r.GET("/api/health", s.handleHealth)
	r.GET("/api/matchup", s.handleMatchup)
	r.POST("/api/vote", s.handleVote)
	r.POST("/api/skip", s.handleSkip)
	r.GET("/api/stats", s.handleStats)
	r.GET("/api/schema", s.handleSchema)
	r.POST("/api/query", s.handleQuery)
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	catalogCount, err := s.store.CatalogCount(model.QueryOpts{})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read health metrics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"uptime":        time.Since(s.startTime).String(),
		"catalog_count": catalogCount,
		"stack_depth":   s.stk.Snapshot().Depth,
	})
}

// handleMatchup serves the active matchup with both image URLs resolved.
// While the stack is empty or the front images are still resolving the
// client gets a loading status instead of a half-renderable pair.
func (s *Server) handleMatchup(c *gin.Context) {
	view, ok := s.stk.ActiveMatchup()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"status": "loading"})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleVote(c *gin.Context) {
	var req struct {
		WinnerID  string `json:"winner_id" binding:"required"`
		SuperVote bool   `json:"super_vote"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing winner_id field"})
		return
	}

	switch err := s.stk.Consume(req.WinnerID, req.SuperVote); {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "accepted"})
	case errors.Is(err, stack.ErrUnknownWinner):
		c.JSON(http.StatusConflict, gin.H{"error": "winner is not part of the active matchup"})
	case errors.Is(err, stack.ErrNoActiveSlot):
		c.JSON(http.StatusNotFound, gin.H{"error": "no active matchup"})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleSkip(c *gin.Context) {
	switch err := s.stk.Discard(); {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "skipped"})
	case errors.Is(err, stack.ErrNoActiveSlot):
		c.JSON(http.StatusNotFound, gin.H{"error": "no active matchup"})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleStats(c *gin.Context) {
	totals, err := s.store.VoteTotals()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read vote totals"})
		return
	}
	discards, err := s.store.DiscardCount()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read discard count"})
		return
	}
	catalogCount, err := s.store.CatalogCount(model.QueryOpts{})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read catalog count"})
		return
	}

	resp := gin.H{
		"votes":         totals,
		"discards":      discards,
		"catalog_count": catalogCount,
		"stack":         s.stk.Snapshot(),
	}
	if s.gateways != nil {
		resp["gateways"] = s.gateways.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSchema(c *gin.Context) {
	description := s.store.GetSchemaDescription()

	tables, err := s.store.ExecuteQuery(
		"SELECT table_name, column_name, data_type FROM information_schema.columns WHERE table_schema = 'main' ORDER BY table_name, ordinal_position",
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read schema metadata"})
		return
	}

	schema := make(map[string][]map[string]string)
	for _, row := range tables {
		tableName := fmt.Sprintf("%v", row["table_name"])
		schema[tableName] = append(schema[tableName], map[string]string{
			"column": fmt.Sprintf("%v", row["column_name"]),
			"type":   fmt.Sprintf("%v", row["data_type"]),
		})
	}

	counts, err := s.store.TableRowCounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read table row counts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"description": description,
		"tables":      schema,
		"row_counts":  counts,
	})
}

func (s *Server) handleQuery(c *gin.Context) {
	var req struct {
		SQL string `json:"sql" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing sql field"})
		return
	}

	results, err := s.store.ExecuteQuery(req.SQL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var columns []string
	if len(results) > 0 {
		for col := range results[0] {
			columns = append(columns, col)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"columns":   columns,
		"rows":      results,
		"row_count": len(results),
	})
}
