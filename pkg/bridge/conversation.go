package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/odvcencio/backchannel/pkg/errors"
	"github.com/odvcencio/backchannel/pkg/logging"
	"github.com/odvcencio/backchannel/pkg/observability"
)

// titleTimeout bounds the detached title call fired after a stream.
const titleTimeout = 30 * time.Second

// apiResult is what the in-page fetch helper returns. Text is the raw
// body; decoding is left to the caller because not every endpoint
// answers JSON on failure.
type apiResult struct {
	OK     bool   `json:"ok"`
	Status int    `json:"status"`
	Text   string `json:"text"`
}

// apiFetchTemplate runs a REST call from inside the page so it rides
// the page's own cookies alongside the bearer token. The async IIFE
// resolves to the apiResult shape.
const apiFetchTemplate = `
(async () => {
  const resp = await fetch('URL', {
    method: 'METHOD',
    headers: {
      'Content-Type': 'application/json',
      'Authorization': 'Bearer BEARER_TOKEN'
    }BODY_FIELD
  });
  const text = await resp.text();
  return {ok: resp.ok, status: resp.status, text: text};
})()
`

func apiFetchScript(method, url, token string, payloadJSON string) string {
	bodyField := ""
	if payloadJSON != "" {
		bodyField = ",\n    body: JSON.stringify(" + payloadJSON + ")"
	}
	return strings.NewReplacer(
		"METHOD", method,
		"URL", url,
		"BEARER_TOKEN", token,
		"BODY_FIELD", bodyField,
	).Replace(apiFetchTemplate)
}

// apiRequest performs one rate-limited REST call through the page and
// returns the raw result. Transport problems are errors; HTTP-level
// failures are not, they come back with OK false.
func (b *Bridge) apiRequest(ctx context.Context, method, url string, payload any) (apiResult, error) {
	if b.restLimiter != nil {
		if err := b.restLimiter.Wait(ctx); err != nil {
			return apiResult{}, apperrors.Wrap(err, apperrors.ErrCodeConversationAPI, "rate limit wait")
		}
	}

	payloadJSON := ""
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return apiResult{}, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "request payload not serializable")
		}
		payloadJSON = string(raw)
	}

	script := apiFetchScript(method, url, b.session.AccessToken(), payloadJSON)
	var result apiResult
	if err := b.host.EvaluateValue(ctx, script, &result); err != nil {
		return apiResult{}, apperrors.Wrap(err, apperrors.ErrCodeConversationAPI, "api request failed").
			WithContext("method", method).
			WithContext("url", url)
	}

	b.logger.Debug(logging.CategoryAPI, "api_response", fmt.Sprintf("%s %s response", method, url), map[string]any{
		"ok":     result.OK,
		"status": result.Status,
		"text":   result.Text,
	})
	return result, nil
}

func (b *Bridge) apiGet(ctx context.Context, url string) (apiResult, error) {
	return b.apiRequest(ctx, "GET", url, nil)
}

func (b *Bridge) apiPost(ctx context.Context, url string, payload any) (apiResult, error) {
	return b.apiRequest(ctx, "POST", url, payload)
}

func (b *Bridge) apiPatch(ctx context.Context, url string, payload any) (apiResult, error) {
	return b.apiRequest(ctx, "PATCH", url, payload)
}

// decodeAPIBody parses a successful result's body as a JSON object.
// The bool mirrors "usable": false for HTTP failures and for bodies
// that are not objects.
func decodeAPIBody(result apiResult) (map[string]any, bool) {
	if !result.OK {
		return nil, false
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(result.Text), &decoded); err != nil {
		return nil, false
	}
	return decoded, true
}

func (b *Bridge) ensureSession(ctx context.Context) error {
	if len(b.session) == 0 {
		return b.RefreshSession(ctx)
	}
	return nil
}

// NewConversation resets threading state so the next ask starts a
// fresh conversation. The parent message id is reseeded because the
// backend requires one even for the first turn.
func (b *Bridge) NewConversation() {
	b.parentMessageID = uuid.NewString()
	b.conversationID = ""
	b.titleMu.Lock()
	b.titleSet = false
	b.titleMu.Unlock()
	b.logger.SetConversationID("")
	b.logger.Debug(logging.CategoryStream, "conversation_reset", "starting fresh conversation", nil)
}

// SwitchToConversation points the bridge at an existing conversation
// and adopts its current_node as the parent for the next ask. When the
// metadata fetch yields nothing the id is still switched; the next ask
// will thread from whatever parent id was already held.
func (b *Bridge) SwitchToConversation(ctx context.Context, conversationID string) error {
	b.conversationID = conversationID
	b.logger.SetConversationID(conversationID)

	info, err := b.GetConversationInfo(ctx, conversationID)
	if err != nil {
		return err
	}
	if currentNode, ok := info["current_node"].(string); ok && currentNode != "" {
		b.parentMessageID = currentNode
	}
	return nil
}

// GetHistory lists recent conversations keyed by conversation id.
func (b *Bridge) GetHistory(ctx context.Context, limit, offset int) (map[string]any, error) {
	ctx, span := observability.StartSpan(ctx, "bridge.get_history")
	defer span.End()

	if err := b.ensureSession(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/backend-api/conversations?offset=%d&limit=%d", b.baseURL, offset, limit)
	observability.RecordAPIRequest("conversations")
	result, err := b.apiGet(ctx, url)
	if err != nil {
		return nil, err
	}
	decoded, ok := decodeAPIBody(result)
	if !ok {
		b.logger.Warn(logging.CategoryAPI, "history_failed", "Failed to get history", map[string]any{
			"status": result.Status,
		})
		return nil, apperrors.New(apperrors.ErrCodeConversationAPI, "history request rejected").
			WithContext("status", result.Status)
	}

	items, _ := decoded["items"].([]any)
	history := make(map[string]any, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := entry["id"].(string)
		if id == "" {
			continue
		}
		history[id] = entry
	}
	return history, nil
}

// DeleteConversation hides a conversation. With an empty id the current
// conversation is deleted; when there is no current conversation either
// the call is a no-op.
func (b *Bridge) DeleteConversation(ctx context.Context, conversationID string) error {
	ctx, span := observability.StartSpan(ctx, "bridge.delete_conversation")
	defer span.End()

	if err := b.ensureSession(ctx); err != nil {
		return err
	}
	if conversationID == "" && b.conversationID == "" {
		return nil
	}
	target := conversationID
	if target == "" {
		target = b.conversationID
	}
	observability.SetAttributes(ctx, observability.AttrConversationID.String(target))

	url := fmt.Sprintf("%s/backend-api/conversation/%s", b.baseURL, target)
	observability.RecordAPIRequest("delete_conversation")
	result, err := b.apiPatch(ctx, url, map[string]any{"is_visible": false})
	if err != nil {
		return err
	}
	if !result.OK {
		b.logger.Warn(logging.CategoryAPI, "delete_failed", "Failed to delete conversation", map[string]any{
			"conversation_id": target,
			"status":          result.Status,
		})
		return apperrors.New(apperrors.ErrCodeConversationAPI, "delete request rejected").
			WithContext("conversation_id", target).
			WithContext("status", result.Status)
	}
	return nil
}

// maybeGenerateTitleAsync fires the gen_title call on its own goroutine
// after a stream ends. The first successful call per conversation wins;
// later streams skip. Failures are logged, never surfaced.
func (b *Bridge) maybeGenerateTitleAsync() {
	b.titleMu.Lock()
	done := b.titleSet
	b.titleMu.Unlock()
	if b.conversationID == "" || done {
		return
	}

	conversationID := b.conversationID
	parentMessageID := b.parentMessageID
	renderModel := RenderModels[b.model]

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
		defer cancel()
		if err := b.generateTitle(ctx, conversationID, parentMessageID, renderModel); err != nil {
			b.logger.Warn(logging.CategoryAPI, "title_failed", "Failed to set title", map[string]any{
				"conversation_id": conversationID,
				"error":           err.Error(),
			})
		}
	}()
}

func (b *Bridge) generateTitle(ctx context.Context, conversationID, parentMessageID, renderModel string) error {
	url := fmt.Sprintf("%s/backend-api/conversation/gen_title/%s", b.baseURL, conversationID)
	payload := map[string]any{
		"message_id": parentMessageID,
		"model":      renderModel,
	}
	observability.RecordAPIRequest("gen_title")
	result, err := b.apiPost(ctx, url, payload)
	if err != nil {
		return err
	}
	if !result.OK {
		return apperrors.New(apperrors.ErrCodeConversationAPI, "title request rejected").
			WithContext("status", result.Status)
	}
	b.titleMu.Lock()
	b.titleSet = true
	b.titleMu.Unlock()
	return nil
}
