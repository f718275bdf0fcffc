package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/odvcencio/backchannel/pkg/errors"
	"github.com/odvcencio/backchannel/pkg/logging"
	"github.com/odvcencio/backchannel/pkg/observability"
)

// sessionRefreshScriptTemplate fetches the auth session from inside the
// page and parks the raw response in a well-known node for the host to
// collect. The node is only created on a 200, so a logged-out browser
// simply never produces it.
const sessionRefreshScriptTemplate = `
(() => {
const xhr = new XMLHttpRequest();
xhr.open('GET', 'BASE_URL/api/auth/session');
xhr.onload = () => {
  if(xhr.status == 200) {
    var mydiv = document.createElement('DIV');
    mydiv.id = "SESSION_DIV_ID";
    mydiv.innerHTML = xhr.responseText;
    document.body.appendChild(mydiv);
  }
};
xhr.send();
})();
`

func sessionRefreshScript(baseURL string) string {
	return strings.NewReplacer(
		"BASE_URL", baseURL,
		"SESSION_DIV_ID", sessionDivID,
	).Replace(sessionRefreshScriptTemplate)
}

// conversationInfoScriptTemplate fetches conversation metadata. The
// endpoint answers an event-stream request with a plain JSON document,
// so the same header set as the streaming driver is used.
const conversationInfoScriptTemplate = `
(() => {
const xhr = new XMLHttpRequest();
xhr.open('GET', 'BASE_URL/backend-api/conversation/CONVERSATION_ID');
xhr.setRequestHeader('Accept', 'text/event-stream');
xhr.setRequestHeader('Content-Type', 'application/json');
xhr.setRequestHeader('Authorization', 'Bearer BEARER_TOKEN');
xhr.responseType = 'stream';
xhr.onload = function() {
  if(xhr.status == 200) {
    var conversation_info_div = document.createElement('DIV');
    conversation_info_div.id = "CONVERSATION_INFO_DIV_ID";
    conversation_info_div.innerHTML = xhr.responseText;
    document.body.appendChild(conversation_info_div);
  }
};
xhr.send();
})();
`

func conversationInfoScript(baseURL, token, conversationID string) string {
	return strings.NewReplacer(
		"BASE_URL", baseURL,
		"BEARER_TOKEN", token,
		"CONVERSATION_INFO_DIV_ID", conversationInfoDivID,
		"CONVERSATION_ID", conversationID,
	).Replace(conversationInfoScriptTemplate)
}

// RefreshSession re-fetches the auth session through the page and
// replaces the bridge's session wholesale. It blocks until the page
// publishes the session node, so callers should bound ctx when the
// browser may not be logged in yet.
func (b *Bridge) RefreshSession(ctx context.Context) error {
	ctx, span := observability.StartSpan(ctx, "bridge.refresh_session")
	defer span.End()
	observability.RecordSessionRefresh()

	if err := b.host.Evaluate(ctx, sessionRefreshScript(b.baseURL)); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeSessionRefresh, "session refresh injection failed")
	}

	for {
		exists, err := b.host.ElementExists(ctx, sessionDivID)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeSessionRefresh, "session poll failed")
		}
		if exists {
			break
		}
		select {
		case <-ctx.Done():
			return apperrors.Wrap(ctx.Err(), apperrors.ErrCodeSessionRefresh, "session refresh canceled")
		case <-time.After(b.pollInterval):
		}
	}

	raw, err := b.host.InnerText(ctx, sessionDivID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeSessionRefresh, "session read failed")
	}

	fresh := make(Session)
	if err := json.Unmarshal([]byte(raw), &fresh); err != nil {
		// Remove the node before returning so a retry does not reread
		// the same payload.
		_ = b.host.RemoveElement(ctx, sessionDivID)
		return apperrors.Wrap(err, apperrors.ErrCodeSessionParse, "session payload is not valid JSON")
	}

	b.session = fresh
	if err := b.host.RemoveElement(ctx, sessionDivID); err != nil {
		b.logger.Warn(logging.CategorySession, "session_node_cleanup_failed", err.Error(), nil)
	}

	observability.SetAttributes(ctx, observability.AttrSessionUsable.Bool(b.SessionUsable()))
	b.logger.Debug(logging.CategorySession, "session_refreshed", "session data replaced", map[string]any{
		"usable": b.SessionUsable(),
	})
	return nil
}

// SessionUsable reports whether the current session carries an access
// token. It never touches the browser.
func (b *Bridge) SessionUsable() bool {
	return b.session.Usable()
}

// GetConversationInfo fetches metadata for a conversation, including
// the current_node id used to continue it. An unusable session is not
// an error; it is logged and nil is returned, matching the behavior of
// the ask path.
func (b *Bridge) GetConversationInfo(ctx context.Context, conversationID string) (map[string]any, error) {
	ctx, span := observability.StartSpan(ctx, "bridge.conversation_info")
	defer span.End()
	observability.SetAttributes(ctx, observability.AttrConversationID.String(conversationID))

	if len(b.session) == 0 {
		if err := b.RefreshSession(ctx); err != nil {
			return nil, err
		}
	}
	if !b.SessionUsable() {
		b.logger.Warn(logging.CategorySession, "session_unusable", sessionUnusableMessage, nil)
		return nil, nil
	}

	script := conversationInfoScript(b.baseURL, b.session.AccessToken(), conversationID)
	if err := b.host.Evaluate(ctx, script); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConversationAPI, "conversation info injection failed").
			WithContext("conversation_id", conversationID)
	}
	observability.RecordAPIRequest("conversation_info")

	// The endpoint streams, so early reads can catch a truncated
	// document. Parse failures keep polling until the node holds a
	// complete one.
	for {
		exists, err := b.host.ElementExists(ctx, conversationInfoDivID)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeConversationAPI, "conversation info poll failed")
		}
		if exists {
			raw, err := b.host.InnerText(ctx, conversationInfoDivID)
			if err != nil {
				return nil, apperrors.Wrap(err, apperrors.ErrCodeConversationAPI, "conversation info read failed")
			}
			cleaned := controlCharPattern.ReplaceAllString(raw, "")
			var info map[string]any
			if err := json.Unmarshal([]byte(cleaned), &info); err == nil {
				if err := b.host.RemoveElement(ctx, conversationInfoDivID); err != nil {
					b.logger.Warn(logging.CategorySession, "conversation_info_cleanup_failed", err.Error(), nil)
				}
				return info, nil
			}
			b.logger.Debug(logging.CategorySession, "conversation_info_partial", "payload not yet parseable", nil)
		}
		select {
		case <-ctx.Done():
			return nil, apperrors.Wrap(ctx.Err(), apperrors.ErrCodeConversationAPI, "conversation info canceled").
				WithContext("conversation_id", conversationID)
		case <-time.After(b.pollInterval):
		}
	}
}
