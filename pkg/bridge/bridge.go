// Package bridge drives the ChatGPT web application through a live
// browser. Requests are injected into the page as scripts, streamed
// responses are relayed through well-known DOM nodes, and the bridge
// reassembles them into ordered text chunks.
package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/odvcencio/backchannel/pkg/browser"
	apperrors "github.com/odvcencio/backchannel/pkg/errors"
	"github.com/odvcencio/backchannel/pkg/logging"
	"github.com/odvcencio/backchannel/pkg/observability"
)

const (
	defaultBaseURL      = "https://chat.openai.com"
	defaultTimeout      = 60 * time.Second
	defaultPollInterval = 200 * time.Millisecond

	// streamChannelBuffer absorbs bursts when the consumer renders
	// slower than frames arrive.
	streamChannelBuffer = 10

	// cleanupTimeout bounds node removal after a stream ends, which
	// must run even when the stream's own context is gone.
	cleanupTimeout = 5 * time.Second

	defaultRESTRate  = rate.Limit(1)
	defaultRESTBurst = 10
)

// Bridge drives one ChatGPT conversation through a browser host.
//
// A Bridge belongs to a single goroutine. The only internal concurrency
// is the detached title call fired after a stream, which touches
// nothing but the title flag.
type Bridge struct {
	host   browser.Host
	logger *logging.Logger

	session Session

	conversationID  string
	parentMessageID string

	titleMu  sync.Mutex
	titleSet bool

	model        string
	baseURL      string
	timeout      time.Duration
	pollInterval time.Duration
	restLimiter  *rate.Limiter
}

// Options configures a Bridge. Zero values fall back to defaults; only
// an unrecognized model is an error.
type Options struct {
	// Model is a key of RenderModels, not a raw backend model name.
	Model string
	// BaseURL overrides the site root, mostly for tests.
	BaseURL string
	// Timeout is how long a stream may go without producing a message
	// before it is abandoned.
	Timeout time.Duration
	// PollInterval is the mailbox polling cadence.
	PollInterval time.Duration
	// RESTRate and RESTBurst shape the limiter in front of the REST
	// helpers (history, delete, title). Zero values take the defaults.
	RESTRate  rate.Limit
	RESTBurst int
	Logger    *logging.Logger
}

// New builds a Bridge over an already-started host. The parent message
// id is seeded immediately because the backend wants one on the very
// first turn.
func New(host browser.Host, opts Options) (*Bridge, error) {
	if host == nil {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "browser host is required")
	}

	model := opts.Model
	if model == "" {
		model = "default"
	}
	if _, ok := RenderModels[model]; !ok {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "model key not recognized").
			WithContext("model", model)
	}

	baseURL := strings.TrimSuffix(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	restRate := opts.RESTRate
	if restRate <= 0 {
		restRate = defaultRESTRate
	}
	restBurst := opts.RESTBurst
	if restBurst <= 0 {
		restBurst = defaultRESTBurst
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger("")
	}

	return &Bridge{
		host:            host,
		logger:          logger,
		session:         make(Session),
		parentMessageID: uuid.NewString(),
		model:           model,
		baseURL:         baseURL,
		timeout:         timeout,
		pollInterval:    pollInterval,
		restLimiter:     rate.NewLimiter(restRate, restBurst),
	}, nil
}

// AskStream sends a prompt and returns a channel of response chunks.
// The channel closes when the stream reaches a terminal state. Errors
// never surface here; session and read problems arrive as fixed texts
// on the channel, so a consumer only ever ranges and prints.
func (b *Bridge) AskStream(ctx context.Context, prompt string) <-chan string {
	chunks := make(chan string, streamChannelBuffer)
	go func() {
		defer close(chunks)
		b.askStream(ctx, prompt, func(chunk string) {
			select {
			case chunks <- chunk:
			case <-ctx.Done():
			}
		})
	}()
	return chunks
}

// Ask sends a prompt and blocks for the whole response. A stream that
// produced nothing at all yields the fixed unusable-response text.
func (b *Bridge) Ask(ctx context.Context, message string) string {
	var sb strings.Builder
	chunks := 0
	for chunk := range b.AskStream(ctx, message) {
		sb.WriteString(chunk)
		chunks++
	}
	if chunks == 0 {
		return emptyResponseMessage
	}
	return sb.String()
}

func (b *Bridge) askStream(ctx context.Context, prompt string, yield func(string)) {
	ctx, span := observability.StartSpan(ctx, "bridge.ask_stream")
	defer span.End()
	observability.SetAttributes(ctx,
		observability.AttrModel.String(b.model),
		observability.AttrTimeout.String(b.timeout.String()),
	)

	chunkCount := 0
	countedYield := func(chunk string) {
		chunkCount++
		observability.RecordStreamChunk()
		yield(chunk)
	}

	if len(b.session) == 0 {
		if err := b.RefreshSession(ctx); err != nil {
			b.logger.Error(logging.CategorySession, "session_refresh_failed", err.Error(), nil)
		}
	}

	messageID := uuid.NewString()

	if !b.SessionUsable() {
		observability.AddEvent(ctx, "session_unusable")
		countedYield(sessionUnusableMessage)
		return
	}

	envelope := newEnvelope(prompt, messageID, RenderModels[b.model], b.conversationID, b.parentMessageID)
	body, err := json.Marshal(envelope)
	if err != nil {
		b.logger.Error(logging.CategoryStream, "envelope_marshal_failed", err.Error(), nil)
		countedYield(streamReadFailedMessage)
		return
	}

	observability.RecordStreamStarted()
	start := time.Now()
	b.logger.Debug(logging.CategoryStream, "stream_started", "conversation request injected", map[string]any{
		"model":             b.model,
		"conversation_id":   b.conversationID,
		"parent_message_id": b.parentMessageID,
	})

	var outcome streamOutcome
	script := streamRequestScript(b.baseURL, b.session.AccessToken(), string(body))
	if err := b.host.Evaluate(ctx, script); err != nil {
		b.logger.Error(logging.CategoryStream, "driver_injection_failed", err.Error(), nil)
		countedYield(streamReadFailedMessage)
		outcome = outcomeFailed
	} else {
		outcome = b.assembleResponse(ctx, countedYield)
	}

	// Node cleanup must outlive ctx; a canceled stream still removes
	// what the driver left behind.
	cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := (mailbox{host: b.host}).clear(cleanupCtx); err != nil {
		b.logger.Warn(logging.CategoryMailbox, "cleanup_failed", err.Error(), nil)
	}

	duration := time.Since(start)
	switch outcome {
	case outcomeTimedOut:
		observability.RecordStreamTimedOut(duration)
	case outcomeFailed:
		observability.RecordStreamFailed(duration)
	default:
		observability.RecordStreamCompleted(duration)
	}

	b.logger.SetConversationID(b.conversationID)
	observability.SetAttributes(ctx,
		observability.AttrStreamState.String(outcome.String()),
		observability.AttrConversationID.String(b.conversationID),
		observability.AttrParentMessage.String(b.parentMessageID),
		observability.AttrChunks.Int(chunkCount),
	)
	b.logger.Info(logging.CategoryStream, "stream_finished", "stream reached terminal state", map[string]any{
		"state":       outcome.String(),
		"chunks":      chunkCount,
		"duration_ms": duration.Milliseconds(),
	})

	b.maybeGenerateTitleAsync()
}

// ConversationID returns the id of the conversation the bridge is
// threaded onto, or "" before the first response arrives.
func (b *Bridge) ConversationID() string {
	return b.conversationID
}

// ParentMessageID returns the message id the next ask will thread from.
func (b *Bridge) ParentMessageID() string {
	return b.parentMessageID
}

// Model returns the configured model key.
func (b *Bridge) Model() string {
	return b.model
}

// SetModel switches the model key used for subsequent asks.
func (b *Bridge) SetModel(model string) error {
	if _, ok := RenderModels[model]; !ok {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "model key not recognized").
			WithContext("model", model)
	}
	b.model = model
	return nil
}

// Session returns the current decoded session payload.
func (b *Bridge) Session() Session {
	return b.session
}
