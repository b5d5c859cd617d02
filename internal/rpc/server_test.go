package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/tauagent/tau/internal/agent"
	"github.com/tauagent/tau/internal/eventbus"
	"github.com/tauagent/tau/internal/models"
	"github.com/tauagent/tau/internal/sessions"
	"github.com/tauagent/tau/internal/tools"
)

type fakeProvider struct {
	text string
}

func (p *fakeProvider) Complete(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	return models.ChatResponse{Message: models.NewTextMessage(models.RoleAssistant, p.text), FinishReason: models.FinishStop}, nil
}

func testFactory(t *testing.T) LoopFactory {
	t.Helper()
	return func(ctx context.Context, runID string) (*agent.Loop, *eventbus.Bus, error) {
		store := sessions.NewJSONLStore(t.TempDir()+"/"+runID+".jsonl", sessions.DefaultLockConfig())
		if err := store.EnsureInitialized(ctx, "system"); err != nil {
			return nil, nil, err
		}
		bus := eventbus.NewBus(nil)
		loop := agent.NewLoop(&fakeProvider{text: "hello"}, tools.NewRegistry(), store, bus, agent.DefaultConfig())
		return loop, bus, nil
	}
}

func dialPipe(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	client, srv := net.Pipe()
	return client, srv
}

func readFrame(t *testing.T, r *bufio.Reader) Frame {
	t.Helper()
	line, err := r.ReadBytes('\n')
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		t.Fatalf("unmarshal frame: %v, line=%s", err, line)
	}
	return f
}

func writeFrame(t *testing.T, w *bufio.Writer, f Frame) {
	t.Helper()
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatal(err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
}

func TestRunStartStreamsToCompletion(t *testing.T) {
	client, srv := dialPipe(t)
	defer client.Close()

	srvr := NewServer(testFactory(t), DefaultConfig(), nil)
	done := make(chan error, 1)
	go func() { done <- srvr.Serve(context.Background(), srv) }()

	cw := bufio.NewWriter(client)
	cr := bufio.NewReader(client)

	startPayload, _ := json.Marshal(RunStartPayload{Prompt: "hi"})
	writeFrame(t, cw, Frame{SchemaVersion: CapabilitiesSchemaVersion, Kind: KindRunStart, RequestID: "r1", Payload: startPayload})

	started := readFrame(t, cr)
	if started.Kind != KindRunStarted {
		t.Fatalf("expected run.started, got %+v", started)
	}
	var startedPayload RunIDPayload
	if err := json.Unmarshal(started.Payload, &startedPayload); err != nil {
		t.Fatal(err)
	}
	if startedPayload.RunID == "" {
		t.Fatal("expected non-empty run_id")
	}

	for {
		f := readFrame(t, cr)
		if f.Terminal {
			if f.Kind != KindRunComplete {
				t.Fatalf("expected run.complete as the terminal frame, got %+v", f)
			}
			if f.TerminalState != models.RunCompleted {
				t.Fatalf("expected terminal_state=completed, got %s", f.TerminalState)
			}
			break
		}
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after connection close")
	}
}

func TestRunStatusUnknownRunIDIsInvalidRequestID(t *testing.T) {
	client, srv := dialPipe(t)
	defer client.Close()

	srvr := NewServer(testFactory(t), DefaultConfig(), nil)
	go srvr.Serve(context.Background(), srv)

	cw := bufio.NewWriter(client)
	cr := bufio.NewReader(client)

	payload, _ := json.Marshal(RunIDPayload{RunID: "does-not-exist"})
	writeFrame(t, cw, Frame{SchemaVersion: CapabilitiesSchemaVersion, Kind: KindRunStatus, RequestID: "r2", Payload: payload})

	f := readFrame(t, cr)
	if f.Kind != KindRunFail {
		t.Fatalf("expected run.fail, got %+v", f)
	}
	var fail FailPayload
	if err := json.Unmarshal(f.Payload, &fail); err != nil {
		t.Fatal(err)
	}
	if fail.Error.Code != CodeInvalidRequestID {
		t.Fatalf("expected %s, got %s", CodeInvalidRequestID, fail.Error.Code)
	}
}

func TestCapabilitiesPayloadMatchesStableTaxonomy(t *testing.T) {
	srvr := NewServer(testFactory(t), DefaultConfig(), nil)
	caps := srvr.Capabilities()

	if caps.ProtocolVersion != ProtocolVersion || caps.SchemaVersion != CapabilitiesSchemaVersion {
		t.Fatalf("unexpected version fields: %+v", caps)
	}
	if len(caps.Capabilities) != len(Capabilities) {
		t.Fatalf("expected %d capabilities, got %d", len(Capabilities), len(caps.Capabilities))
	}
	if len(caps.Contracts.Errors.Codes) != 7 {
		t.Fatalf("expected 7 error codes, got %d", len(caps.Contracts.Errors.Codes))
	}
	if caps.Contracts.Errors.Codes[0].Code != CodeInvalidJSON || caps.Contracts.Errors.Codes[0].Category != "validation" {
		t.Fatalf("unexpected first error code entry: %+v", caps.Contracts.Errors.Codes[0])
	}
	if !caps.Contracts.RunStatus.TerminalFlagAlwaysPresent || !caps.Contracts.RunStatus.TerminalStateFieldPresentForTerminalStatus {
		t.Fatalf("expected both terminal-presence flags true: %+v", caps.Contracts.RunStatus)
	}
}

func TestClosedRunCacheEvictsByInsertionOrder(t *testing.T) {
	c := newClosedRunCache(2)
	c.Put("a", models.NewRunState("a", 1))
	c.Put("b", models.NewRunState("b", 2))
	c.Put("c", models.NewRunState("c", 3))

	if c.Len() != 2 {
		t.Fatalf("expected capacity-bounded length 2, got %d", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected oldest entry 'a' to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Fatal("expected 'b' to still be cached")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("expected 'c' to still be cached")
	}
}
