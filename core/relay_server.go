package core

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
)

// ComputeFn is the worker's abstracted per-layer compute step:
// compute(input, layer_index) -> output, length-preserving or
// length-determined by the compute itself but always non-empty on success.
type ComputeFn func(input Vector, layerIndex uint32) (Vector, error)

// RelayServerConfig configures a layer-range relay endpoint.
type RelayServerConfig struct {
	HMACSecret []byte
	StartLayer uint32
	EndLayer   uint32
	Compute    ComputeFn
}

// RelayServer hosts the activation relay endpoint: it
// accepts framed messages, runs the configured layer range, and responds.
// Each connection is handled on its own goroutine with its own framing
// state and buffers — no shared mutable state leaks between requests.
type RelayServer struct {
	cfg      RelayServerConfig
	listener net.Listener
	log      *logrus.Logger
}

// NewRelayServer constructs a server bound to addr. Call Serve to accept
// connections.
func NewRelayServer(addr string, cfg RelayServerConfig) (*RelayServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, wrapErr(ErrConnectRefused, "listen", err)
	}
	return &RelayServer{cfg: cfg, listener: ln, log: logrus.StandardLogger()}, nil
}

// Addr returns the server's bound address, useful when addr was "host:0".
func (s *RelayServer) Addr() string { return s.listener.Addr().String() }

// Serve accepts connections until the listener is closed.
func (s *RelayServer) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections.
func (s *RelayServer) Close() error { return s.listener.Close() }

// handleConn runs the IDLE -> PARSE -> COMPUTE -> SEND_OK state machine
// for a single connection, one request per connection per the
// client's send-then-close contract.
func (s *RelayServer) handleConn(conn net.Conn) {
	defer conn.Close()

	payload, hmacOK, err := readRequestFrame(conn, s.cfg.HMACSecret)
	if err != nil {
		s.log.WithError(err).Warn("relay: parse error")
		return
	}
	if !hmacOK {
		// must not reveal which byte differed; respond status 1, empty body.
		_ = writeResponseFrame(conn, s.cfg.HMACSecret, StatusHmacError, nil)
		return
	}

	out, err := s.forward(payload)
	if err != nil {
		s.log.WithError(err).Warn("relay: compute error")
		_ = writeResponseFrame(conn, s.cfg.HMACSecret, StatusComputeError, nil)
		return
	}

	if err := writeResponseFrame(conn, s.cfg.HMACSecret, StatusOK, out); err != nil {
		s.log.WithError(err).Warn("relay: write response")
	}
}

// forward runs compute sequentially over [start_layer, end_layer], with no
// layer skipped or reordered.
func (s *RelayServer) forward(input Vector) (Vector, error) {
	current := input
	for layer := s.cfg.StartLayer; ; layer++ {
		next, err := s.cfg.Compute(current, layer)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", layer, err)
		}
		if len(next) == 0 {
			return nil, fmt.Errorf("layer %d: compute returned empty output", layer)
		}
		current = next
		if layer >= s.cfg.EndLayer {
			break
		}
	}
	return current, nil
}
