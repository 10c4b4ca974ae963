package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeBotAPI serves the Bot API methods used by the transport.
type fakeBotAPI struct {
	mu        sync.Mutex
	delivered bool
	sentText  []string
	sentChat  []string
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"ktime","username":"ktime_bot"}}`))
	case strings.HasSuffix(r.URL.Path, "/getUpdates"):
		f.mu.Lock()
		first := !f.delivered
		f.delivered = true
		f.mu.Unlock()
		if first {
			_, _ = w.Write([]byte(`{"ok":true,"result":[
				{"update_id":10,"message":{"message_id":1,"date":0,"from":{"id":4242,"is_bot":false,"first_name":"admin"},"chat":{"id":4242,"type":"private"},"text":"/status"}},
				{"update_id":11,"edited_message":{"message_id":1,"date":0,"chat":{"id":4242,"type":"private"},"text":"edited"}}
			]}`))
			return
		}
		time.Sleep(10 * time.Millisecond)
		_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		f.mu.Lock()
		f.sentText = append(f.sentText, r.PostForm.Get("text"))
		f.sentChat = append(f.sentChat, r.PostForm.Get("chat_id"))
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":2,"date":0,"chat":{"id":4242,"type":"private"},"text":"ok"}}`))
	default:
		http.NotFound(w, r)
	}
}

func newTestTelegram(t *testing.T) (*TelegramTransport, *fakeBotAPI) {
	t.Helper()

	api := &fakeBotAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	transport, err := NewTelegramTransport(TelegramConfig{
		Token:       "123:abc",
		Endpoint:    srv.URL + "/bot%s/%s",
		PollTimeout: time.Second,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewTelegramTransport failed: %v", err)
	}
	return transport, api
}

func TestTelegramReceive(t *testing.T) {
	transport, _ := newTestTelegram(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, err := transport.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	select {
	case msg := <-messages:
		if msg.SenderID != 4242 || msg.ChatID != 4242 || msg.Text != "/status" {
			t.Errorf("Unexpected message: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for message")
	}

	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-messages:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("Expected channel to close after cancel")
		}
	}
}

func TestTelegramSend(t *testing.T) {
	transport, api := newTestTelegram(t)
	defer func() { _ = transport.Close() }()

	if err := transport.Send(context.Background(), 4242, "hello"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.sentText) != 1 || api.sentText[0] != "hello" || api.sentChat[0] != "4242" {
		t.Errorf("Unexpected sent messages: %v to %v", api.sentText, api.sentChat)
	}
}

func TestTelegramCloseTwice(t *testing.T) {
	transport, _ := newTestTelegram(t)

	if err := transport.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := transport.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}
}
