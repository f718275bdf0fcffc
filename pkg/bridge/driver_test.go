package bridge

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEnvelopeWireShape(t *testing.T) {
	envelope := newEnvelope("hi", "m1", "text-davinci-002-render-sha", "", "p1")
	raw, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"messages":[{"id":"m1","role":"user","content":{"content_type":"text","parts":["hi"]}}],` +
		`"model":"text-davinci-002-render-sha","conversation_id":null,"parent_message_id":"p1","action":"next"}`
	if string(raw) != want {
		t.Errorf("envelope = %s\nwant       %s", raw, want)
	}
}

func TestEnvelopeCarriesConversationID(t *testing.T) {
	envelope := newEnvelope("hi", "m1", "text-davinci-002-render-paid", "conv-7", "p2")
	raw, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"conversation_id":"conv-7"`) {
		t.Errorf("envelope = %s, want conversation_id conv-7", raw)
	}
	if !strings.Contains(string(raw), `"parent_message_id":"p2"`) {
		t.Errorf("envelope = %s, want parent_message_id p2", raw)
	}
}

func TestStreamRequestScript(t *testing.T) {
	envelope := newEnvelope("hello world", "m1", "text-davinci-002-render-sha", "", "p1")
	raw, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	script := streamRequestScript(defaultBaseURL, "tok-abc", string(raw))

	for _, want := range []string{
		string(raw),
		"Bearer tok-abc",
		"https://chat.openai.com/backend-api/conversation'",
		`stream_div.id = "` + streamDivID + `"`,
		`eof_div.id = "` + eofDivID + `"`,
		`split(/\n\n/)`,
		"data: [DONE]",
		"btoa(newEvent)",
		"text/event-stream",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("driver script missing %q", want)
		}
	}
	for _, leftover := range []string{"BASE_URL", "BEARER_TOKEN", "STREAM_DIV_ID", "EOF_DIV_ID", "REQUEST_JSON"} {
		if strings.Contains(script, leftover) {
			t.Errorf("driver script still contains placeholder %q", leftover)
		}
	}
}

func TestSessionRefreshScript(t *testing.T) {
	script := sessionRefreshScript("https://chat.openai.com")
	if !strings.Contains(script, "https://chat.openai.com/api/auth/session") {
		t.Error("session script missing auth endpoint")
	}
	if !strings.Contains(script, sessionDivID) {
		t.Error("session script missing rendezvous id")
	}
}

func TestConversationInfoScript(t *testing.T) {
	script := conversationInfoScript("https://chat.openai.com", "tok-9", "conv-3")
	for _, want := range []string{
		"https://chat.openai.com/backend-api/conversation/conv-3",
		"Bearer tok-9",
		conversationInfoDivID,
		"text/event-stream",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("conversation info script missing %q", want)
		}
	}
}
