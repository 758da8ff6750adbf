// Package serve implements the NDJSON request/response protocol used by
// long-running scanner integrations.
package serve

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tagcheck/tagcheck/pkg/scanner"
)

// Version is the server protocol version
const Version = "1.1.0"

// Reloader builds a fresh core, e.g. by re-reading rule files.
type Reloader func() (*scanner.Core, error)

// Server manages the streaming scanner. A reload swaps the whole core; scans
// in flight finish on the core they started with.
type Server struct {
	mu       sync.RWMutex
	core     *scanner.Core
	reloader Reloader

	encMu   sync.Mutex
	encoder *json.Encoder
	decoder *json.Decoder
	logger  zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithReloader enables "reload" requests and rule watching.
func WithReloader(r Reloader) Option {
	return func(s *Server) {
		s.reloader = r
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer creates a new streaming server
func NewServer(core *scanner.Core, in io.Reader, out io.Writer, opts ...Option) *Server {
	s := &Server{
		core:    core,
		encoder: json.NewEncoder(out),
		decoder: json.NewDecoder(bufio.NewReader(in)),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Core returns the core currently serving scans.
func (s *Server) Core() *scanner.Core {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.core
}

// Run starts the server main loop
func (s *Server) Run(ctx context.Context) error {
	s.sendReady()

	reqChan := make(chan Request, 1)
	errChan := make(chan error, 1)

	go func() {
		for {
			var req Request
			if err := s.decoder.Decode(&req); err != nil {
				errChan <- err
				return
			}
			select {
			case reqChan <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Process requests until stdin closes or context cancels
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errChan:
			// Drain any pending requests before handling EOF
			for {
				select {
				case req := <-reqChan:
					if s.processRequest(ctx, req) {
						return nil
					}
				default:
					if err == io.EOF {
						return nil
					}
					s.sendError("decode", err.Error())
					return nil
				}
			}
		case req := <-reqChan:
			if s.processRequest(ctx, req) {
				return nil
			}
		}
	}
}

// processRequest handles a single request and returns true if the server should exit
func (s *Server) processRequest(ctx context.Context, req Request) bool {
	switch req.Type {
	case "scan":
		s.handleScan(ctx, req.Payload)
	case "scan_batch":
		s.handleScanBatch(ctx, req.Payload)
	case "reload":
		s.handleReload()
	case "close":
		return true
	default:
		s.sendError("unknown", "unknown request type: "+req.Type)
	}
	return false
}

// Reload replaces the core with a freshly built one. On failure the current
// core stays in service.
func (s *Server) Reload() (int, error) {
	if s.reloader == nil {
		return 0, fmt.Errorf("reload is not enabled")
	}
	core, err := s.reloader()
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.core = core
	s.mu.Unlock()

	n := core.Scanner().RuleSet().Len()
	s.logger.Info().Int("rules", n).Msg("rules reloaded")
	return n, nil
}

func (s *Server) sendReady() {
	data, _ := json.Marshal(ReadyData{Version: Version, Rules: s.Core().Scanner().RuleSet().Len()})
	s.send(Response{
		Success: true,
		Type:    "ready",
		Data:    data,
	})
}

func (s *Server) handleScan(ctx context.Context, payload json.RawMessage) {
	var p ScanPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		s.sendError("scan", err.Error())
		return
	}

	// Incomplete scans still carry a report; its status tells the caller.
	report, err := s.Core().Scan(ctx, p)
	if report == nil {
		s.sendError("scan", err.Error())
		return
	}
	s.sendData("scan", report)
}

func (s *Server) handleScanBatch(ctx context.Context, payload json.RawMessage) {
	var p ScanBatchPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		s.sendError("scan_batch", err.Error())
		return
	}

	result, err := s.Core().ScanBatch(ctx, p.Items)
	if err != nil {
		s.sendError("scan_batch", err.Error())
		return
	}
	s.sendData("scan_batch", result)
}

func (s *Server) handleReload() {
	n, err := s.Reload()
	if err != nil {
		s.sendError("reload", err.Error())
		return
	}
	s.sendData("reload", ReloadData{Rules: n})
}

func (s *Server) sendData(reqType string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.sendError(reqType, err.Error())
		return
	}
	s.send(Response{
		Success: true,
		Type:    reqType,
		Data:    data,
	})
}

func (s *Server) sendError(reqType, msg string) {
	s.send(Response{
		Success: false,
		Type:    reqType,
		Error:   msg,
	})
}

func (s *Server) send(resp Response) {
	s.encMu.Lock()
	defer s.encMu.Unlock()
	if err := s.encoder.Encode(resp); err != nil {
		s.logger.Error().Err(err).Str("type", resp.Type).Msg("writing response")
	}
}
