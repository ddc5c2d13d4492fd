package agentclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/JonasDEMA/agentify-os-sub002/internal/domain"
)

func TestClientDeliverPostsMessage(t *testing.T) {
	var gotHeaders http.Header
	var gotMsg domain.Message

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if r.URL.Path != "/inbox" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		gotHeaders = r.Header.Clone()
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("failed to read body: %v", err)
		}
		if err := json.Unmarshal(body, &gotMsg); err != nil {
			t.Errorf("failed to decode message: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"accepted"}`)
	}))
	defer server.Close()

	client := &Client{httpClient: server.Client(), timeout: time.Second}
	msg := &domain.Message{
		ID:      "msg-1",
		Type:    "request",
		From:    "producer",
		To:      []string{"agent-1"},
		Payload: json.RawMessage(`{"action":"read"}`),
	}

	resp, err := client.Deliver(context.Background(), server.URL+"/inbox", msg)
	if err != nil {
		t.Fatalf("deliver failed: %v", err)
	}

	if string(resp) != `{"status":"accepted"}` {
		t.Fatalf("unexpected response: %s", resp)
	}
	if gotMsg.ID != "msg-1" || string(gotMsg.Payload) != `{"action":"read"}` {
		t.Fatalf("unexpected message payload: %+v", gotMsg)
	}
	if gotHeaders.Get("X-Message-ID") != "msg-1" {
		t.Fatalf("missing X-Message-ID header")
	}
	if gotHeaders.Get("X-Sender-ID") != "producer" {
		t.Fatalf("missing X-Sender-ID header")
	}
	if gotHeaders.Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected content type: %s", gotHeaders.Get("Content-Type"))
	}
}

func TestClientDeliverNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "draining\n")
	}))
	defer server.Close()

	client := &Client{httpClient: server.Client(), timeout: time.Second}
	_, err := client.Deliver(context.Background(), server.URL, &domain.Message{ID: "m"})
	if err == nil {
		t.Fatalf("expected error")
	}

	var derr *DeliveryError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DeliveryError, got %T", err)
	}
	if derr.StatusCode != http.StatusServiceUnavailable || derr.Body != "draining" {
		t.Fatalf("unexpected error: %+v", derr)
	}
}

func TestClientDeliverTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := &Client{httpClient: server.Client(), timeout: 50 * time.Millisecond}
	start := time.Now()
	_, err := client.Deliver(context.Background(), server.URL, &domain.Message{ID: "m"})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout was not applied")
	}
}

func TestClientDeliverUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	client := NewClient(time.Second)
	if _, err := client.Deliver(context.Background(), addr, &domain.Message{ID: "m"}); err == nil {
		t.Fatalf("expected connection error")
	}
}

func TestToJSON(t *testing.T) {
	cases := map[string]string{
		"":            "null",
		`{"ok":true}`: `{"ok":true}`,
		"plain text":  `"plain text"`,
		"  [1,2]\n":   `[1,2]`,
	}
	for in, want := range cases {
		if got := string(toJSON([]byte(in))); got != want {
			t.Fatalf("toJSON(%q) = %s, want %s", in, got, want)
		}
	}
}
