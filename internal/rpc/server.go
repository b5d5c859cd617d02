package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tauagent/tau/internal/agent"
	"github.com/tauagent/tau/internal/eventbus"
	"github.com/tauagent/tau/internal/models"
)

// LoopFactory builds a fresh agent.Loop (and the eventbus.Bus it was wired
// with) for one run.start request. The server never constructs a Loop
// itself: providers, tool registries, and session stores are a deployment
// concern, handed in by whoever wires the server (cmd/tau's serve command).
type LoopFactory func(ctx context.Context, runID string) (*agent.Loop, *eventbus.Bus, error)

// Config bounds one server's run lifecycle.
type Config struct {
	// RunTimeout bounds one run's wall-clock budget; exceeding it yields
	// run.timeout. Zero disables the budget.
	RunTimeout time.Duration
	// ClosedRunCacheCapacity bounds the FIFO closed-run cache. Zero uses
	// ClosedRunStatusCapacity.
	ClosedRunCacheCapacity int
	// Model is the model identifier passed to Loop.Prompt for every run.
	Model string
}

func DefaultConfig() Config {
	return Config{RunTimeout: 10 * time.Minute, Model: "default"}
}

type runEntry struct {
	loop  *agent.Loop
	state models.RunState
}

// Server multiplexes run.start/run.cancel/run.status requests from one
// connection's frame stream onto per-run goroutines, streaming AgentEvents
// back as response frames and retaining terminal RunState in a bounded FIFO
// cache once a run closes.
type Server struct {
	factory LoopFactory
	cfg     Config
	logger  *slog.Logger
	cache   *closedRunCache

	mu     sync.Mutex
	active map[string]*runEntry
}

func NewServer(factory LoopFactory, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		factory: factory,
		cfg:     cfg,
		logger:  logger,
		cache:   newClosedRunCache(cfg.ClosedRunCacheCapacity),
		active:  make(map[string]*runEntry),
	}
}

// frameWriter serializes concurrent writes from every run's goroutine onto
// one connection: the wire is a single line-delimited stream even though
// many runs may be multiplexed over it.
type frameWriter struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func (fw *frameWriter) write(f Frame) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := fw.w.Write(data); err != nil {
		return err
	}
	return fw.w.Flush()
}

// Serve runs one accept loop over rw: it reads frames line by line until EOF
// or a read error, dispatching each to its kind's handler; ctx is passed to
// the runs and is not checked by the read loop. Once reading stops, Serve
// waits for every run started on this connection to finish before
// returning. Reaching EOF does not cancel those runs; they end on their own,
// through ctx, or through RunTimeout.
func (s *Server) Serve(ctx context.Context, rw io.ReadWriter) error {
	fw := &frameWriter{w: bufio.NewWriter(rw)}
	scanner := bufio.NewScanner(rw)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	var wg sync.WaitGroup
	defer wg.Wait()

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Frame
		if err := json.Unmarshal(line, &req); err != nil {
			fw.write(Frame{SchemaVersion: CapabilitiesSchemaVersion, Kind: "error", Terminal: true, TerminalState: models.RunFailed,
				Payload: mustMarshal(FailPayload{Error: invalidJSON(err.Error())})})
			continue
		}
		if req.SchemaVersion > CapabilitiesSchemaVersion {
			fw.write(s.errorFrame(req, unsupportedSchema("server understands schema_version <= "+strconv.Itoa(CapabilitiesSchemaVersion))))
			continue
		}

		switch req.Kind {
		case KindRunStart:
			wg.Add(1)
			go func(req Frame) {
				defer wg.Done()
				s.handleRunStart(ctx, req, fw)
			}(req)
		case KindRunCancel:
			s.handleRunCancel(req, fw)
		case KindRunStatus:
			s.handleRunStatus(req, fw)
		default:
			fw.write(s.errorFrame(req, unsupportedKind("unknown request kind "+req.Kind)))
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("rpc connection read error", "error", err)
		return &transportError{ErrorDetail: ioError(err.Error()), cause: err}
	}
	return nil
}

// transportError wraps a connection-level read failure with its taxonomy
// entry, so a caller can both log the underlying cause and report the
// stable io_error code upstream.
type transportError struct {
	ErrorDetail
	cause error
}

func (e *transportError) Error() string { return e.cause.Error() }
func (e *transportError) Unwrap() error { return e.cause }

func (s *Server) errorFrame(req Frame, detail ErrorDetail) Frame {
	return Frame{
		SchemaVersion: CapabilitiesSchemaVersion,
		Kind:          KindRunFail,
		RequestID:     req.RequestID,
		Terminal:      true,
		TerminalState: models.RunFailed,
		Payload:       mustMarshal(FailPayload{Error: detail}),
	}
}

func (s *Server) handleRunStart(ctx context.Context, req Frame, fw *frameWriter) {
	var payload RunStartPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		fw.write(s.errorFrame(req, invalidPayload(err.Error())))
		return
	}

	runID := uuid.NewString()
	loop, bus, err := s.factory(ctx, runID)
	if err != nil {
		fw.write(s.errorFrame(req, internalError(err.Error())))
		return
	}
	defer bus.Close()

	state := models.NewRunState(runID, time.Now().UnixMilli())
	entry := &runEntry{loop: loop, state: state}
	s.mu.Lock()
	s.active[runID] = entry
	s.mu.Unlock()

	fw.write(Frame{
		SchemaVersion: CapabilitiesSchemaVersion,
		Kind:          KindRunStarted,
		RequestID:     req.RequestID,
		Payload:       mustMarshal(RunIDPayload{RunID: runID}),
	})

	runCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	var lastUsage models.Usage
	bus.Subscribe(func(event models.AgentEvent) {
		s.translateEvent(runID, req.RequestID, event, fw, &lastUsage)
	})

	_, err = loop.Prompt(runCtx, s.cfg.Model, payload.Prompt)

	finalStatus := models.RunCompleted
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		finalStatus = models.RunTimedOut
	case err != nil:
		finalStatus = models.RunFailed
	case entry.state.Status == models.RunCancelled:
		finalStatus = models.RunCancelled
	}

	s.mu.Lock()
	entry.state = entry.state.Transition(finalStatus, time.Now().UnixMilli())
	delete(s.active, runID)
	s.mu.Unlock()
	s.cache.Put(runID, entry.state)

	terminalFrame := Frame{
		SchemaVersion: CapabilitiesSchemaVersion,
		RequestID:     req.RequestID,
		Terminal:      true,
		TerminalState: finalStatus,
	}
	switch finalStatus {
	case models.RunCompleted:
		terminalFrame.Kind = KindRunComplete
		terminalFrame.Payload = mustMarshal(CompletePayload{RunID: runID, Usage: lastUsage})
	case models.RunCancelled:
		terminalFrame.Kind = KindRunCancelled
		terminalFrame.Payload = mustMarshal(RunIDPayload{RunID: runID})
	case models.RunTimedOut:
		terminalFrame.Kind = KindRunTimeout
		terminalFrame.Payload = mustMarshal(RunIDPayload{RunID: runID})
	default:
		terminalFrame.Kind = KindRunFail
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		terminalFrame.Payload = mustMarshal(FailPayload{RunID: runID, Error: internalError(msg)})
	}
	fw.write(terminalFrame)
}

// translateEvent mirrors one AgentEvent as a stream frame and keeps the
// run's live RunState current for run.status to consult.
func (s *Server) translateEvent(runID, requestID string, event models.AgentEvent, fw *frameWriter, lastUsage *models.Usage) {
	s.mu.Lock()
	entry, ok := s.active[runID]
	s.mu.Unlock()
	if !ok {
		return
	}

	switch event.Type {
	case models.EventMessageAdded:
		if event.Message == nil {
			return
		}
		text := event.Message.Text()
		if text == "" {
			return
		}
		fw.write(Frame{
			SchemaVersion: CapabilitiesSchemaVersion,
			Kind:          KindRunStreamAssistant,
			RequestID:     requestID,
			Payload:       mustMarshal(AssistantTextPayload{RunID: runID, Chunk: text}),
		})
	case models.EventToolExecStart, models.EventToolExecEnd, models.EventReplanTriggered:
		fw.write(Frame{
			SchemaVersion: CapabilitiesSchemaVersion,
			Kind:          KindRunStreamToolEvents,
			RequestID:     requestID,
			Payload:       mustMarshal(ToolEventPayload{RunID: runID, Event: event}),
		})
	case models.EventTurnEnd:
		if event.Usage != nil {
			*lastUsage = *event.Usage
		}
	}

	s.mu.Lock()
	entry.state = entry.state.Transition(entry.state.Status, time.Now().UnixMilli())
	s.mu.Unlock()
}

// handleRunCancel sets the cooperative cancel flag on an active run.
// Idempotent: a run_id already closed returns success with the cached
// terminal state rather than an error (spec.md §4.6).
func (s *Server) handleRunCancel(req Frame, fw *frameWriter) {
	var payload RunIDPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		fw.write(s.errorFrame(req, invalidPayload(err.Error())))
		return
	}

	s.mu.Lock()
	entry, active := s.active[payload.RunID]
	if active {
		entry.state = entry.state.Transition(models.RunCancelled, time.Now().UnixMilli())
	}
	s.mu.Unlock()

	if active {
		entry.loop.Cancel()
		fw.write(Frame{
			SchemaVersion: CapabilitiesSchemaVersion,
			Kind:          KindRunCancelled,
			RequestID:     req.RequestID,
			Payload:       mustMarshal(RunIDPayload{RunID: payload.RunID}),
		})
		return
	}

	if cached, ok := s.cache.Get(payload.RunID); ok {
		fw.write(Frame{
			SchemaVersion: CapabilitiesSchemaVersion,
			Kind:          KindRunCancelled,
			RequestID:     req.RequestID,
			Terminal:      true,
			TerminalState: cached.TerminalState,
			Payload:       mustMarshal(RunIDPayload{RunID: payload.RunID}),
		})
		return
	}

	fw.write(s.errorFrame(req, invalidRequestID("no active or cached run with id "+payload.RunID)))
}

// handleRunStatus consults live state first, then the closed-run cache;
// an unknown run_id is a typed invalid_request_id error (spec.md §4.6).
func (s *Server) handleRunStatus(req Frame, fw *frameWriter) {
	var payload RunIDPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		fw.write(s.errorFrame(req, invalidPayload(err.Error())))
		return
	}

	s.mu.Lock()
	entry, active := s.active[payload.RunID]
	var state models.RunState
	if active {
		state = entry.state
	}
	s.mu.Unlock()

	if !active {
		cached, ok := s.cache.Get(payload.RunID)
		if !ok {
			fw.write(s.errorFrame(req, invalidRequestID("no active or cached run with id "+payload.RunID)))
			return
		}
		state = cached
	}

	fw.write(Frame{
		SchemaVersion: CapabilitiesSchemaVersion,
		Kind:          KindRunStatusResponse,
		RequestID:     req.RequestID,
		Terminal:      state.Terminal,
		TerminalState: state.TerminalState,
		Payload:       mustMarshal(StatusPayload{RunID: payload.RunID, State: state.Status}),
	})
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
