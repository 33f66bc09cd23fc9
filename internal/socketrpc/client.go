package socketrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pairvote/pairvote/internal/model"
)

// Client implements the Backend surface over a Unix domain socket using JSON-RPC 2.0.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex
	nextID  int
	scanner *bufio.Scanner
	encoder *json.Encoder
}

// Dial connects to the socket RPC server at the given path.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("socketrpc: dial: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	return &Client{
		conn:    conn,
		scanner: scanner,
		encoder: json.NewEncoder(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call performs a JSON-RPC call and unmarshals the result into dest.
func (c *Client) call(method string, params interface{}, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID

	paramsData, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("socketrpc: marshal params: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  paramsData,
	}

	c.conn.SetDeadline(time.Now().Add(30 * time.Second))
	defer c.conn.SetDeadline(time.Time{})

	if err := c.encoder.Encode(req); err != nil {
		return fmt.Errorf("socketrpc: send: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return fmt.Errorf("socketrpc: read: %w", err)
		}
		return fmt.Errorf("socketrpc: connection closed")
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("socketrpc: unmarshal response: %w", err)
	}

	if resp.Error != nil {
		return resp.Error
	}

	if dest != nil {
		if err := json.Unmarshal(resp.Result, dest); err != nil {
			return fmt.Errorf("socketrpc: unmarshal result: %w", err)
		}
	}
	return nil
}

func (c *Client) StackSnapshot() (model.StackSnapshot, error) {
	var result model.StackSnapshot
	err := c.call("StackSnapshot", map[string]interface{}{}, &result)
	return result, err
}

func (c *Client) GatewayStats() ([]model.GatewayStat, error) {
	var result []model.GatewayStat
	err := c.call("GatewayStats", map[string]interface{}{}, &result)
	return result, err
}

func (c *Client) VoteTotals() (model.VoteTotals, error) {
	var result model.VoteTotals
	err := c.call("VoteTotals", map[string]interface{}{}, &result)
	return result, err
}

func (c *Client) DiscardCount() (int64, error) {
	var result int64
	err := c.call("DiscardCount", map[string]interface{}{}, &result)
	return result, err
}

func (c *Client) CatalogCount(opts model.QueryOpts) (int64, error) {
	var result int64
	err := c.call("CatalogCount", map[string]interface{}{"Opts": opts}, &result)
	return result, err
}

func (c *Client) RecentVotes(limit int) ([]model.VoteRecord, error) {
	var result []model.VoteRecord
	err := c.call("RecentVotes", map[string]interface{}{"Limit": limit}, &result)
	return result, err
}

func (c *Client) ListCollections() ([]string, error) {
	var result []string
	err := c.call("ListCollections", map[string]interface{}{}, &result)
	return result, err
}

func (c *Client) TopNFTs(limit int, opts model.QueryOpts) ([]model.NFT, error) {
	var result []model.NFT
	err := c.call("TopNFTs", map[string]interface{}{"Limit": limit, "Opts": opts}, &result)
	return result, err
}

func (c *Client) Reset() error {
	var ok bool
	return c.call("Reset", map[string]interface{}{}, &ok)
}
