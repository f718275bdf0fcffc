package diag

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	apperrors "github.com/odvcencio/backchannel/pkg/errors"
)

func TestServerServesHealthMetricsAndStatus(t *testing.T) {
	srv := NewServer("127.0.0.1:0", func() Status {
		return Status{
			SessionUsable:  true,
			ConversationID: "conv-123",
			Model:          "default",
		}
	}, nil)

	if err := srv.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	base := "http://" + srv.Addr()

	t.Run("healthz", func(t *testing.T) {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			t.Fatalf("healthz request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("healthz status = %d", resp.StatusCode)
		}
		var body map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("healthz decode failed: %v", err)
		}
		if body["status"] != "ok" {
			t.Fatalf("healthz body = %v", body)
		}
	})

	t.Run("status", func(t *testing.T) {
		resp, err := http.Get(base + "/api/status")
		if err != nil {
			t.Fatalf("status request failed: %v", err)
		}
		defer resp.Body.Close()
		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("status decode failed: %v", err)
		}
		if body["session_usable"] != true {
			t.Fatalf("session_usable = %v", body["session_usable"])
		}
		if body["conversation_id"] != "conv-123" {
			t.Fatalf("conversation_id = %v", body["conversation_id"])
		}
		if body["model"] != "default" {
			t.Fatalf("model = %v", body["model"])
		}
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(base + "/metrics")
		if err != nil {
			t.Fatalf("metrics request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("metrics status = %d", resp.StatusCode)
		}
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("metrics read failed: %v", err)
		}
		if !strings.Contains(string(raw), "# HELP") {
			t.Fatal("metrics exposition looks empty")
		}
	})
}

func TestServerRefusesNonLoopbackBind(t *testing.T) {
	srv := NewServer("0.0.0.0:0", nil, nil)
	err := srv.Start()
	if err == nil {
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		})
		t.Fatal("expected non-loopback bind to be refused")
	}
	if !apperrors.IsCode(err, apperrors.ErrCodeDiagServer) {
		t.Fatalf("expected DIAG_SERVER code, got %v", err)
	}
}

func TestServerStatusWithoutFunc(t *testing.T) {
	srv := NewServer("127.0.0.1:0", nil, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	resp, err := http.Get("http://" + srv.Addr() + "/api/status")
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}
}

func TestIsLoopbackBindAddress(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:9915", true},
		{"localhost:9915", true},
		{"[::1]:9915", true},
		{"0.0.0.0:9915", false},
		{"192.168.1.4:9915", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isLoopbackBindAddress(tt.addr); got != tt.want {
			t.Errorf("isLoopbackBindAddress(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}
