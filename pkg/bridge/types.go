package bridge

import (
	"regexp"
	"strings"
)

// Well-known element ids used as the rendezvous points between injected
// page scripts and the host-side poll loops. The injected side creates
// and fills these nodes; the host side reads and removes them.
const (
	streamDivID           = "chatgpt-wrapper-conversation-stream-data"
	eofDivID              = "chatgpt-wrapper-conversation-stream-data-eof"
	sessionDivID          = "chatgpt-wrapper-session-data"
	conversationInfoDivID = "chatgpt-wrapper-conversation-info-data"
)

// RenderModels maps the model keys accepted in configuration to the
// render model names the backend expects.
var RenderModels = map[string]string{
	"default":     "text-davinci-002-render-sha",
	"legacy-paid": "text-davinci-002-render-paid",
	"legacy-free": "text-davinci-002-render",
}

// Fixed user-facing texts. These are yielded through the normal stream
// channel so callers never need a separate error path while reading.
const (
	sessionUnusableMessage = "Your ChatGPT session is not usable.\n" +
		"* Run this program with the `install` parameter and log in to ChatGPT.\n" +
		"* If you think you are already logged in, try running the `session` command."

	streamReadFailedMessage = "Failed to read response from ChatGPT.  Tips:\n" +
		" * Try again.  ChatGPT can be flaky.\n" +
		" * Use the `session` command to refresh your session, and then try again.\n" +
		" * Restart the program in the `install` mode and make sure you are logged in."

	emptyResponseMessage = "Unusable response produced, maybe login session expired. " +
		"Try 'pkill chrome' and 'backchannel install'"
)

// controlCharPattern matches the control characters that occasionally
// leak into conversation payloads rendered through the DOM and break
// JSON decoding. Newlines are included because innerText folds them
// unpredictably across renderers.
var controlCharPattern = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F\n]`)

// Frame is one server-sent event from the conversation endpoint, as
// published into the stream node by the injected driver. Each frame
// carries the full message text so far, not a delta.
type Frame struct {
	Message        FrameMessage `json:"message"`
	ConversationID string       `json:"conversation_id"`
}

// FrameMessage identifies the assistant message a frame belongs to.
type FrameMessage struct {
	ID      string       `json:"id"`
	Content FrameContent `json:"content"`
}

// FrameContent holds the message body parts.
type FrameContent struct {
	ContentType string   `json:"content_type"`
	Parts       []string `json:"parts"`
}

// JoinedParts renders the frame body the way the site's own client
// does, joining parts with a newline.
func (f *Frame) JoinedParts() string {
	return strings.Join(f.Message.Content.Parts, "\n")
}

// Envelope is the request body for the conversation endpoint.
type Envelope struct {
	Messages []EnvelopeMessage `json:"messages"`
	Model    string            `json:"model"`
	// ConversationID must serialize as null on the first turn of a
	// conversation, so it is a pointer rather than an omitempty string.
	ConversationID  *string `json:"conversation_id"`
	ParentMessageID string  `json:"parent_message_id"`
	Action          string  `json:"action"`
}

// EnvelopeMessage is a single user message inside an Envelope.
type EnvelopeMessage struct {
	ID      string          `json:"id"`
	Role    string          `json:"role"`
	Content EnvelopeContent `json:"content"`
}

// EnvelopeContent mirrors the content shape the backend expects.
type EnvelopeContent struct {
	ContentType string   `json:"content_type"`
	Parts       []string `json:"parts"`
}

// newEnvelope builds the request body for one prompt. An empty
// conversationID serializes as null, which tells the backend to open a
// new conversation.
func newEnvelope(prompt, messageID, renderModel, conversationID, parentMessageID string) Envelope {
	var conversation *string
	if conversationID != "" {
		conversation = &conversationID
	}
	return Envelope{
		Messages: []EnvelopeMessage{
			{
				ID:   messageID,
				Role: "user",
				Content: EnvelopeContent{
					ContentType: "text",
					Parts:       []string{prompt},
				},
			},
		},
		Model:           renderModel,
		ConversationID:  conversation,
		ParentMessageID: parentMessageID,
		Action:          "next",
	}
}

// Session is the decoded payload of the auth session endpoint. The
// shape is controlled by the site, so it stays a loose map and the
// few fields the bridge needs are exposed through accessors.
type Session map[string]any

// AccessToken returns the bearer token, or "" when absent.
func (s Session) AccessToken() string {
	token, _ := s["accessToken"].(string)
	return token
}

// Usable reports whether the session carries an access token. Logged-out
// sessions still decode fine but have no accessToken key.
func (s Session) Usable() bool {
	_, ok := s["accessToken"]
	return ok
}
