package core

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// RelayClientConfig configures the orchestrator-side relay client.
type RelayClientConfig struct {
	HMACSecret []byte
	Timeout    time.Duration // default 5s for tests, 120s for real inference
}

// RelayClient connects to worker relay endpoints, sends one framed request,
// awaits one framed response, and closes. A sony/gobreaker circuit
// breaker is kept per worker address so a chronically failing worker is
// tripped open: while open, Send fails fast with ConnectRefused instead of
// dialing the worker again.
type RelayClient struct {
	cfg RelayClientConfig

	mu       sync.Mutex
	breakers map[Address]*gobreaker.CircuitBreaker
}

// NewRelayClient constructs a client.
func NewRelayClient(cfg RelayClientConfig) *RelayClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &RelayClient{cfg: cfg, breakers: make(map[Address]*gobreaker.CircuitBreaker)}
}

func (c *RelayClient) breakerFor(addr Address) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.breakers[addr]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(addr),
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	c.breakers[addr] = b
	return b
}

// Send connects to address, sends one framed request with input, and
// returns the decoded response payload. It fails with Timeout,
// ConnectRefused, HmacError, or ComputeError.
func (c *RelayClient) Send(address Address, input Vector, timeout time.Duration) (Vector, error) {
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	breaker := c.breakerFor(address)
	result, err := breaker.Execute(func() (interface{}, error) {
		return c.send(address, input, timeout)
	})
	if err != nil {
		var meshErr *MeshError
		if errors.As(err, &meshErr) {
			return nil, meshErr
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, wrapErr(ErrConnectRefused, "worker circuit breaker open", err)
		}
		return nil, wrapErr(ErrTimeout, "relay send", err)
	}
	return result.(Vector), nil
}

func (c *RelayClient) send(address Address, input Vector, timeout time.Duration) (Vector, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.Dial("tcp", string(address))
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, newErr(ErrTimeout, "dial timeout")
		}
		return nil, wrapErr(ErrConnectRefused, "dial", err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(timeout))

	if err := writeRequestFrame(conn, c.cfg.HMACSecret, input); err != nil {
		return nil, wrapErr(ErrConnectRefused, "write request", err)
	}

	status, payload, hmacOK, err := readResponseFrame(conn, c.cfg.HMACSecret)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, newErr(ErrTimeout, "read response timeout")
		}
		return nil, wrapErr(ErrConnectRefused, "read response", err)
	}
	if !hmacOK {
		return nil, newErr(ErrHmacError, "response hmac mismatch")
	}
	if status != StatusOK {
		return nil, statusError(status)
	}
	return payload, nil
}
