package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/odvcencio/backchannel/pkg/backchannel/console"
)

// stubBridge is a scripted conversationalist for REPL tests.
type stubBridge struct {
	answer      string
	chunks      []string
	asked       []string
	refreshErr  error
	usable      bool
	newCalls    int
	switchedTo  []string
	switchErr   error
	history     map[string]any
	historyErr  error
	histLimit   int
	histOffset  int
	deleted     []string
	deleteErr   error
	model       string
	setModelErr error
	convID      string
}

func (s *stubBridge) Ask(ctx context.Context, message string) string {
	s.asked = append(s.asked, message)
	return s.answer
}

func (s *stubBridge) AskStream(ctx context.Context, prompt string) <-chan string {
	s.asked = append(s.asked, prompt)
	ch := make(chan string, len(s.chunks))
	for _, chunk := range s.chunks {
		ch <- chunk
	}
	close(ch)
	return ch
}

func (s *stubBridge) RefreshSession(ctx context.Context) error { return s.refreshErr }
func (s *stubBridge) SessionUsable() bool                      { return s.usable }
func (s *stubBridge) NewConversation()                         { s.newCalls++ }

func (s *stubBridge) SwitchToConversation(ctx context.Context, id string) error {
	if s.switchErr != nil {
		return s.switchErr
	}
	s.switchedTo = append(s.switchedTo, id)
	s.convID = id
	return nil
}

func (s *stubBridge) GetHistory(ctx context.Context, limit, offset int) (map[string]any, error) {
	s.histLimit, s.histOffset = limit, offset
	return s.history, s.historyErr
}

func (s *stubBridge) DeleteConversation(ctx context.Context, id string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubBridge) Model() string { return s.model }

func (s *stubBridge) SetModel(model string) error {
	if s.setModelErr != nil {
		return s.setModelErr
	}
	s.model = model
	return nil
}

func (s *stubBridge) ConversationID() string { return s.convID }

// runScriptedREPL feeds input lines to a REPL over the stub and returns
// everything it printed.
func runScriptedREPL(t *testing.T, stub *stubBridge, stream bool, lines ...string) string {
	t.Helper()
	var buf bytes.Buffer
	r := &repl{
		bridge: stub,
		out:    console.NewWithOptions(&buf, true, 100),
		in:     strings.NewReader(strings.Join(lines, "\n") + "\n"),
		stream: stream,
	}
	if err := r.run(context.Background()); err != nil {
		t.Fatalf("repl run: %v", err)
	}
	return buf.String()
}

func TestREPLExitCommands(t *testing.T) {
	for _, cmd := range []string{"!exit", "!quit"} {
		stub := &stubBridge{}
		runScriptedREPL(t, stub, false, cmd)
		if len(stub.asked) != 0 {
			t.Errorf("%s still sent a prompt: %v", cmd, stub.asked)
		}
	}
}

func TestREPLEndsOnEOF(t *testing.T) {
	var buf bytes.Buffer
	r := &repl{
		bridge: &stubBridge{},
		out:    console.NewWithOptions(&buf, true, 100),
		in:     strings.NewReader(""),
	}
	if err := r.run(context.Background()); err != nil {
		t.Fatalf("repl run on EOF: %v", err)
	}
}

func TestREPLTurnPlain(t *testing.T) {
	stub := &stubBridge{answer: "four"}
	out := runScriptedREPL(t, stub, false, "what is 2+2", "!exit")

	if len(stub.asked) != 1 || stub.asked[0] != "what is 2+2" {
		t.Fatalf("asked = %v", stub.asked)
	}
	if !strings.Contains(out, "four") {
		t.Errorf("output %q missing the answer", out)
	}
}

func TestREPLTurnStreaming(t *testing.T) {
	stub := &stubBridge{chunks: []string{"fo", "ur"}}
	out := runScriptedREPL(t, stub, true, "what is 2+2", "!exit")

	if len(stub.asked) != 1 {
		t.Fatalf("asked = %v", stub.asked)
	}
	if !strings.Contains(out, "four") {
		t.Errorf("output %q missing the concatenated stream", out)
	}
}

func TestREPLNewConversation(t *testing.T) {
	stub := &stubBridge{}
	out := runScriptedREPL(t, stub, false, "!new", "!exit")

	if stub.newCalls != 1 {
		t.Fatalf("newCalls = %d", stub.newCalls)
	}
	if !strings.Contains(out, "fresh conversation") {
		t.Errorf("output %q missing confirmation", out)
	}
}

func TestREPLSwitch(t *testing.T) {
	stub := &stubBridge{}
	runScriptedREPL(t, stub, false, "!switch conv-42", "!exit")
	if len(stub.switchedTo) != 1 || stub.switchedTo[0] != "conv-42" {
		t.Fatalf("switchedTo = %v", stub.switchedTo)
	}

	out := runScriptedREPL(t, &stubBridge{}, false, "!switch", "!exit")
	if !strings.Contains(out, "usage: !switch") {
		t.Errorf("output %q missing usage hint", out)
	}
}

func TestREPLModelShowAndSet(t *testing.T) {
	stub := &stubBridge{model: "default"}
	out := runScriptedREPL(t, stub, false, "!model", "!model legacy-free", "!exit")

	if !strings.Contains(out, "default") {
		t.Errorf("output %q missing current model", out)
	}
	if stub.model != "legacy-free" {
		t.Errorf("model = %q after set", stub.model)
	}

	stub = &stubBridge{model: "default", setModelErr: errors.New("model key not recognized")}
	out = runScriptedREPL(t, stub, false, "!model bogus", "!exit")
	if !strings.Contains(out, "not recognized") {
		t.Errorf("output %q missing rejection", out)
	}
}

func TestREPLStreamToggle(t *testing.T) {
	stub := &stubBridge{answer: "plain", chunks: []string{"streamed"}}
	out := runScriptedREPL(t, stub, false, "!stream", "hello", "!exit")

	if !strings.Contains(out, "Streaming output on") {
		t.Errorf("output %q missing toggle confirmation", out)
	}
	if !strings.Contains(out, "streamed") {
		t.Errorf("output %q should use the streaming path after toggle", out)
	}
}

func TestREPLHistory(t *testing.T) {
	stub := &stubBridge{
		history: map[string]any{
			"c2": map[string]any{"id": "c2", "title": "Second"},
			"c1": map[string]any{"id": "c1", "title": "First"},
		},
	}
	out := runScriptedREPL(t, stub, false, "!history 5 10", "!exit")

	if stub.histLimit != 5 || stub.histOffset != 10 {
		t.Fatalf("limit,offset = %d,%d", stub.histLimit, stub.histOffset)
	}
	for _, want := range []string{"c1", "First", "c2", "Second"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}

	// c1 sorts before c2 for stable listings.
	if strings.Index(out, "c1") > strings.Index(out, "c2") {
		t.Error("history not sorted by conversation id")
	}
}

func TestREPLHistoryEmptyAndErrors(t *testing.T) {
	out := runScriptedREPL(t, &stubBridge{}, false, "!history", "!exit")
	if !strings.Contains(out, "No conversations") {
		t.Errorf("output %q missing empty-history notice", out)
	}

	out = runScriptedREPL(t, &stubBridge{}, false, "!history soon", "!exit")
	if !strings.Contains(out, "not a positive number") {
		t.Errorf("output %q missing limit validation", out)
	}

	out = runScriptedREPL(t, &stubBridge{historyErr: errors.New("history request rejected")}, false, "!history", "!exit")
	if !strings.Contains(out, "rejected") {
		t.Errorf("output %q missing history failure", out)
	}
}

func TestREPLDelete(t *testing.T) {
	// No id and no current conversation: nothing to do.
	stub := &stubBridge{}
	out := runScriptedREPL(t, stub, false, "!delete", "!exit")
	if len(stub.deleted) != 0 {
		t.Fatalf("deleted = %v, want none", stub.deleted)
	}
	if !strings.Contains(out, "No current conversation") {
		t.Errorf("output %q missing notice", out)
	}

	// Deleting the current conversation also resets threading state.
	stub = &stubBridge{convID: "conv-7"}
	runScriptedREPL(t, stub, false, "!delete", "!exit")
	if len(stub.deleted) != 1 || stub.deleted[0] != "" {
		t.Fatalf("deleted = %v, want one call with empty id", stub.deleted)
	}
	if stub.newCalls != 1 {
		t.Errorf("newCalls = %d, want reset after deleting current", stub.newCalls)
	}

	// Deleting an explicit id leaves the current conversation alone.
	stub = &stubBridge{convID: "conv-7"}
	runScriptedREPL(t, stub, false, "!delete conv-9", "!exit")
	if len(stub.deleted) != 1 || stub.deleted[0] != "conv-9" {
		t.Fatalf("deleted = %v", stub.deleted)
	}
	if stub.newCalls != 0 {
		t.Errorf("newCalls = %d, want current conversation untouched", stub.newCalls)
	}
}

func TestREPLSession(t *testing.T) {
	out := runScriptedREPL(t, &stubBridge{usable: true}, false, "!session", "!exit")
	if !strings.Contains(out, "usable") {
		t.Errorf("output %q missing usable confirmation", out)
	}

	out = runScriptedREPL(t, &stubBridge{usable: false}, false, "!session", "!exit")
	if !strings.Contains(out, "no access token") {
		t.Errorf("output %q missing token warning", out)
	}

	out = runScriptedREPL(t, &stubBridge{refreshErr: errors.New("session poll failed")}, false, "!session", "!exit")
	if !strings.Contains(out, "session poll failed") {
		t.Errorf("output %q missing refresh failure", out)
	}
}

func TestREPLUnknownCommand(t *testing.T) {
	out := runScriptedREPL(t, &stubBridge{}, false, "!frobnicate", "!exit")
	if !strings.Contains(out, "unknown command") {
		t.Errorf("output %q missing unknown-command error", out)
	}
}

func TestREPLHelpListsCommands(t *testing.T) {
	out := runScriptedREPL(t, &stubBridge{}, false, "!help", "!exit")
	for _, want := range []string{"!new", "!switch", "!history", "!delete", "!session", "!model", "!stream", "!exit"} {
		if !strings.Contains(out, want) {
			t.Errorf("help output missing %s", want)
		}
	}
}

func TestParseHistoryArgs(t *testing.T) {
	limit, offset, err := parseHistoryArgs(nil)
	if err != nil || limit != defaultHistoryLimit || offset != 0 {
		t.Errorf("default args = %d,%d,%v", limit, offset, err)
	}

	limit, offset, err = parseHistoryArgs([]string{"7"})
	if err != nil || limit != 7 || offset != 0 {
		t.Errorf("limit-only = %d,%d,%v", limit, offset, err)
	}

	limit, offset, err = parseHistoryArgs([]string{"7", "3"})
	if err != nil || limit != 7 || offset != 3 {
		t.Errorf("limit+offset = %d,%d,%v", limit, offset, err)
	}

	for _, args := range [][]string{{"0"}, {"-1"}, {"x"}, {"5", "x"}, {"5", "-2"}, {"1", "2", "3"}} {
		if _, _, err := parseHistoryArgs(args); err == nil {
			t.Errorf("parseHistoryArgs(%v) accepted bad input", args)
		}
	}
}
