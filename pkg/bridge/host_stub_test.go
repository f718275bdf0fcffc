package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/odvcencio/backchannel/pkg/browser"
)

// fakeHost is an in-memory browser.Host. Injected scripts do not run;
// tests wire their observable effects through hooks instead. The eof
// existence check marks the start of an assembler tick, so onTick is
// keyed off it to mutate the DOM between ticks deterministically.
type fakeHost struct {
	mu      sync.Mutex
	dom     map[string]string
	evals   []string
	fetches []string
	removed []string
	ticks   int

	// onEvaluate runs under mu with each Evaluate script.
	onEvaluate func(h *fakeHost, script string) error
	// onTick runs under mu at the start of each assembler tick.
	onTick func(tick int, h *fakeHost)
	// onFetch answers EvaluateValue calls.
	onFetch func(h *fakeHost, script string) (apiResult, error)

	closed bool
}

var _ browser.Host = (*fakeHost)(nil)

func newFakeHost() *fakeHost {
	return &fakeHost{dom: make(map[string]string)}
}

func (h *fakeHost) Navigate(ctx context.Context, url string) error { return nil }

func (h *fakeHost) Evaluate(ctx context.Context, script string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.evals = append(h.evals, script)
	if h.onEvaluate != nil {
		return h.onEvaluate(h, script)
	}
	return nil
}

func (h *fakeHost) EvaluateValue(ctx context.Context, script string, out any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fetches = append(h.fetches, script)
	result := apiResult{OK: false, Status: 503}
	if h.onFetch != nil {
		var err error
		result, err = h.onFetch(h, script)
		if err != nil {
			return err
		}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (h *fakeHost) ElementExists(ctx context.Context, id string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id == eofDivID {
		if h.onTick != nil {
			h.onTick(h.ticks, h)
		}
		h.ticks++
	}
	_, ok := h.dom[id]
	return ok, nil
}

func (h *fakeHost) InnerText(ctx context.Context, id string) (string, error) {
	return h.read(id)
}

func (h *fakeHost) InnerHTML(ctx context.Context, id string) (string, error) {
	return h.read(id)
}

func (h *fakeHost) read(id string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	value, ok := h.dom[id]
	if !ok {
		return "", browser.ErrNoSuchElement
	}
	return value, nil
}

func (h *fakeHost) RemoveElement(ctx context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = append(h.removed, id)
	delete(h.dom, id)
	return nil
}

func (h *fakeHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *fakeHost) setNode(id, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dom[id] = content
}

func (h *fakeHost) hasNode(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.dom[id]
	return ok
}

func (h *fakeHost) setOnTick(fn func(tick int, h *fakeHost)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ticks = 0
	h.onTick = fn
}

func (h *fakeHost) tickCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ticks
}

func (h *fakeHost) evalScripts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.evals...)
}

func (h *fakeHost) fetchScripts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.fetches...)
}

func (h *fakeHost) removedIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.removed...)
}

const (
	usableSessionJSON    = `{"accessToken":"tok-123","user":{"id":"u-1","email":"dev@example.com"}}`
	tokenlessSessionJSON = `{"user":{"id":"u-1","email":"dev@example.com"}}`
)

// driverScriptMarker appears only in the streaming driver, not in the
// conversation-info script, whose URL carries a conversation id.
const driverScriptMarker = "/backend-api/conversation');"

// scriptedHost answers the session script by publishing sessionJSON and
// the streaming driver by creating the empty data node, mirroring what
// the real injected scripts do synchronously.
func scriptedHost(sessionJSON string) *fakeHost {
	h := newFakeHost()
	h.onEvaluate = func(h *fakeHost, script string) error {
		switch {
		case strings.Contains(script, "/api/auth/session"):
			h.dom[sessionDivID] = sessionJSON
		case strings.Contains(script, driverScriptMarker):
			h.dom[streamDivID] = ""
		}
		return nil
	}
	return h
}

func driverScripts(h *fakeHost) []string {
	var scripts []string
	for _, script := range h.evalScripts() {
		if strings.Contains(script, driverScriptMarker) {
			scripts = append(scripts, script)
		}
	}
	return scripts
}

func framePayload(t *testing.T, messageID, conversationID string, parts ...string) string {
	t.Helper()
	frame := Frame{
		Message: FrameMessage{
			ID: messageID,
			Content: FrameContent{
				ContentType: "text",
				Parts:       parts,
			},
		},
		ConversationID: conversationID,
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func newTestBridge(t *testing.T, host browser.Host, opts Options) *Bridge {
	t.Helper()
	if opts.PollInterval == 0 {
		opts.PollInterval = 2 * time.Millisecond
	}
	if opts.Timeout == 0 {
		opts.Timeout = 250 * time.Millisecond
	}
	b, err := New(host, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func collectChunks(t *testing.T, ch <-chan string) []string {
	t.Helper()
	var chunks []string
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}
	return chunks
}
