package introspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/c0smic-Lab/hardware-google-pixel/internal/arbiter"
)

const (
	protocolVersion = "v1"
	maxOutputLen    = 65536
	readBufferLen   = 1024
	ioTimeout       = 3 * time.Second

	commandDump  = "/perfmgr/dump"
	commandHints = "/perfmgr/hints"
)

var getCurrentTimestamp = time.Now

// initialMessage is sent once per connection before any command is accepted,
// so clients can size their read buffers.
type initialMessage struct {
	Version         string `json:"version"`
	PID             int    `json:"pid"`
	MaxOutputLength int    `json:"max_output_len"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// StatusSource provides the per-node diagnostic dump.
type StatusSource interface {
	Status() []arbiter.NodeStatus
}

// HintSource lists the supported hint names.
type HintSource interface {
	Hints() []string
}

// Server answers diagnostic commands over a unix socket with JSON responses,
// one request/response pair per read. Commands are newline-free strings;
// responses are keyed by the command that produced them.
type Server interface {
	Start(ctx context.Context) error
}

type serverImpl struct {
	socketPath string
	nodes      StatusSource
	hints      HintSource
	waitGroup  sync.WaitGroup
	logger     logr.Logger
}

func NewServer(socketPath string, nodes StatusSource, hints HintSource, logger logr.Logger) Server {
	return &serverImpl{
		socketPath: socketPath,
		nodes:      nodes,
		hints:      hints,
		logger:     logger.WithName("IntrospectServer"),
	}
}

// Start listens on the unix socket until ctx is cancelled. A stale socket
// file from a previous run is removed first.
func (s *serverImpl) Start(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}

	s.logger.V(4).Info("introspection endpoint listening", "socket", s.socketPath)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.waitGroup.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		s.waitGroup.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

func (s *serverImpl) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.waitGroup.Done()
	defer conn.Close()

	// unblock pending reads when shutting down
	stopWatcher := context.AfterFunc(ctx, func() { conn.Close() })
	defer stopWatcher()

	if err := s.writeJSON(conn, initialMessage{
		Version:         protocolVersion,
		PID:             os.Getpid(),
		MaxOutputLength: maxOutputLen,
	}); err != nil {
		s.logger.Error(err, "failed to send initial message")
		return
	}

	buffer := make([]byte, readBufferLen)
	for {
		if ctx.Err() != nil {
			return
		}

		if err := conn.SetReadDeadline(getCurrentTimestamp().Add(ioTimeout)); err != nil {
			s.logger.Error(err, "error setting read deadline")
			return
		}
		bytesRead, err := conn.Read(buffer)
		if err != nil {
			// a client hanging up is routine, anything else is worth a log line
			if !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
				s.logger.V(4).Info("connection closed", "reason", err.Error())
			}
			return
		}

		command := strings.TrimSpace(string(buffer[:bytesRead]))
		if err := s.writeJSON(conn, s.respond(command)); err != nil {
			s.logger.Error(err, "failed to write response", "command", command)
			return
		}
	}
}

func (s *serverImpl) respond(command string) any {
	switch command {
	case commandDump:
		return map[string][]arbiter.NodeStatus{commandDump: s.nodes.Status()}
	case commandHints:
		return map[string][]string{commandHints: s.hints.Hints()}
	default:
		return errorResponse{Error: fmt.Sprintf("unknown command %q", command)}
	}
}

func (s *serverImpl) writeJSON(conn net.Conn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	if len(payload) > maxOutputLen {
		return fmt.Errorf("response of %d bytes exceeds advertised maximum", len(payload))
	}

	if err := conn.SetWriteDeadline(getCurrentTimestamp().Add(ioTimeout)); err != nil {
		return fmt.Errorf("error setting write deadline: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("write error: %w", err)
	}
	return nil
}
