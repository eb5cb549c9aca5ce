// Package mcp places orders through an external tool process speaking
// line-delimited JSON-RPC over stdin/stdout.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/google/uuid"
)

type Client struct {
	command string
	args    []string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

type ClientOption func(*Client)

func WithArgs(args ...string) ClientOption {
	return func(c *Client) {
		c.args = args
	}
}

// NewClient prepares an order tool client. The tool process is started
// lazily on the first order and restarted if it dies.
func NewClient(command string, opts ...ClientOption) *Client {
	client := &Client{command: command}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  requestParams `json:"params"`
}

type requestParams struct {
	Item     string `json:"item"`
	Quantity int    `json:"quantity"`
}

type response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Result  *struct {
		OrderID string `json:"orderId"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// PlaceOrder submits an order to the tool process and returns the order
// id it assigned.
func (c *Client) PlaceOrder(ctx context.Context, item string, quantity int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureProcess(ctx); err != nil {
		return "", fmt.Errorf("failed to start order tool: %w", err)
	}

	req := request{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  "order.place",
		Params:  requestParams{Item: item, Quantity: quantity},
	}

	line, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal order request: %w", err)
	}

	if _, err := c.stdin.Write(append(line, '\n')); err != nil {
		c.stopProcess()
		return "", fmt.Errorf("failed to write order request: %w", err)
	}

	responseLine, err := c.stdout.ReadString('\n')
	if err != nil {
		c.stopProcess()
		return "", fmt.Errorf("failed to read order response: %w", err)
	}

	var resp response
	if err := json.Unmarshal([]byte(responseLine), &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal order response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("order tool error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	if resp.Result == nil || resp.Result.OrderID == "" {
		return "", fmt.Errorf("order tool returned no order id")
	}

	logger.Info("order placed", "orderID", resp.Result.OrderID, "item", item, "quantity", quantity)
	return resp.Result.OrderID, nil
}

// Close terminates the tool process if it is running.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopProcess()
	return nil
}

func (c *Client) ensureProcess(ctx context.Context) error {
	if c.cmd != nil {
		return nil
	}

	if c.command == "" {
		return fmt.Errorf("no order tool command configured")
	}

	cmd := exec.CommandContext(context.WithoutCancel(ctx), c.command, c.args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", c.command, err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.stdout = bufio.NewReader(stdout)

	logger.Info("started order tool process", "command", c.command, "pid", cmd.Process.Pid)
	return nil
}

func (c *Client) stopProcess() {
	if c.cmd == nil {
		return
	}

	if c.stdin != nil {
		c.stdin.Close()
	}
	if c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
	c.cmd.Wait()

	c.cmd = nil
	c.stdin = nil
	c.stdout = nil
}
