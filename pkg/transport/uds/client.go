package uds

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/modoterra/pulsebar/pkg/core"
)

// ErrRejected is returned when the server answers with an error reply.
var ErrRejected = errors.New("server rejected message")

// Client sends samples to a pulsebar server over a Unix domain socket.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex
}

// Dial connects to the server socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	return &Client{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}, nil
}

// Send writes one sample and waits for the server's reply.
func (c *Client) Send(ctx context.Context, s core.Sample) (string, error) {
	return c.SendRaw(ctx, EncodeSample(s))
}

// SendTokens joins tokens into one message, sends it and waits for the reply.
func (c *Client) SendTokens(ctx context.Context, tokens []string) (string, error) {
	return c.SendRaw(ctx, Encode(tokens))
}

// SendRaw writes msg as-is and returns the reply line without its newline.
// An "err:" reply is returned together with ErrRejected.
func (c *Client) SendRaw(ctx context.Context, msg []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, _ := ctx.Deadline() // zero means no deadline
	if err := c.conn.SetDeadline(deadline); err != nil {
		return "", fmt.Errorf("set deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := c.conn.Write(msg); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}

	line, err := c.reader.ReadString('\n')
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("read reply: %w", err)
	}

	reply := strings.TrimRight(line, "\n")
	if line == ReplyInvalid {
		return reply, ErrRejected
	}
	return reply, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
