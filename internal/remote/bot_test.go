package remote

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/ktime/internal/quota"
	"github.com/goodtune/ktime/internal/storage"
	"github.com/rs/zerolog"
)

const adminID = 4242

type sent struct {
	chatID int64
	text   string
}

// fakeTransport feeds scripted messages and records replies.
type fakeTransport struct {
	inbound chan Message
	mu      sync.Mutex
	sent    []sent
	sentCh  chan sent
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan Message),
		sentCh:  make(chan sent, 64),
	}
}

func (f *fakeTransport) Receive(ctx context.Context) (<-chan Message, error) {
	return f.inbound, nil
}

func (f *fakeTransport) Send(ctx context.Context, chatID int64, text string) error {
	s := sent{chatID: chatID, text: text}
	f.mu.Lock()
	f.sent = append(f.sent, s)
	f.mu.Unlock()
	f.sentCh <- s
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) next(t *testing.T) sent {
	t.Helper()
	select {
	case s := <-f.sentCh:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for a reply")
		return sent{}
	}
}

// fakeController records calls and returns canned results.
type fakeController struct {
	mu        sync.Mutex
	extended  []int
	pauseRes  quota.Result
	resumeRes quota.Result
	err       error
	history   map[string]quota.DayStats
}

func (f *fakeController) TodayStats(ctx context.Context) quota.DayStats {
	return quota.DayStats{Date: "2024-03-04", Status: quota.StatusActive, LimitSeconds: 7200, UsedSeconds: 600, RemainingSeconds: 6600}
}

func (f *fakeController) RemainingSeconds(ctx context.Context) int64 { return 6600 }

func (f *fakeController) PauseAvailability(ctx context.Context) quota.Availability {
	return quota.Availability{Kind: quota.Cooldown, Seconds: 300}
}

func (f *fakeController) RequestPause(ctx context.Context) (quota.Result, error) {
	return f.pauseRes, f.err
}

func (f *fakeController) RequestResume(ctx context.Context) (quota.Result, error) {
	return f.resumeRes, f.err
}

func (f *fakeController) GrantExtension(ctx context.Context, minutes int, source string) (quota.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return quota.Result{}, f.err
	}
	if minutes < 1 || minutes > 120 {
		return quota.Result{Outcome: quota.OutcomeInvalidAmount}, nil
	}
	f.extended = append(f.extended, minutes)
	return quota.Result{Outcome: quota.OutcomeApplied, State: quota.SessionState{RemainingSeconds: int64(minutes) * 60}}, nil
}

func (f *fakeController) History(ctx context.Context, date string) (quota.DayStats, error) {
	if _, err := time.Parse(storage.DateLayout, date); err != nil {
		return quota.DayStats{}, quota.ErrInvalidDate
	}
	s, ok := f.history[date]
	if !ok {
		return quota.DayStats{}, quota.ErrNoHistory
	}
	return s, nil
}

func (f *fakeController) HistoryDates(ctx context.Context) ([]string, error) {
	var dates []string
	for _, d := range []string{"2024-03-01", "2024-03-02", "2024-03-03"} {
		if _, ok := f.history[d]; ok {
			dates = append(dates, d)
		}
	}
	return dates, nil
}

func startBot(t *testing.T, ctrl Controller, buffer int) (*Bot, *fakeTransport) {
	t.Helper()

	transport := newFakeTransport()
	bot := NewBot(transport, ctrl, Config{AdminUserID: adminID, NotifyBuffer: buffer}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run did not stop")
		}
	})

	return bot, transport
}

func TestBotCommands(t *testing.T) {
	ctrl := &fakeController{
		pauseRes:  quota.Result{Outcome: quota.OutcomePauseDenied, Availability: quota.Availability{Kind: quota.BudgetExhausted}},
		resumeRes: quota.Result{Outcome: quota.OutcomeNotPaused},
		history: map[string]quota.DayStats{
			"2024-03-02": {Date: "2024-03-02", Status: quota.StatusBlocked, LimitSeconds: 3600, UsedSeconds: 3600},
			"2024-03-03": {Date: "2024-03-03", Status: quota.StatusActive, LimitSeconds: 3600, UsedSeconds: 1200, RemainingSeconds: 2400},
		},
	}
	_, transport := startBot(t, ctrl, 8)

	tests := []struct {
		text string
		want []string
	}{
		{"/help", []string{"/extend <minutes>", "/history"}},
		{"/status", []string{"Status: active", "Remaining: 1h 50m", "cooling down, available in 5m 00s"}},
		{"/time", []string{"Remaining today: 1h 50m"}},
		{"/extend 30", []string{"Extended by 30 minutes"}},
		{"/extend@ktime_bot 15", []string{"Extended by 15 minutes"}},
		{"/extend", []string{"Usage: /extend <minutes>"}},
		{"/extend lots", []string{"Usage: /extend <minutes>"}},
		{"/extend 500", []string{"between 1 and 120"}},
		{"/pause", []string{"Cannot pause: pause budget used up"}},
		{"/resume", []string{"Not paused."}},
		{"/history", []string{"2024-03-03", "2024-03-02"}},
		{"/history 2024-03-02", []string{"2024-03-02 (blocked)", "Used 1h 00m of 1h 00m"}},
		{"/history 2024-01-01", []string{"No history for 2024-01-01."}},
		{"/history soon", []string{"Usage: /history [YYYY-MM-DD]"}},
		{"/dance", []string{"Unknown command", "/help"}},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			transport.inbound <- Message{SenderID: adminID, ChatID: adminID, Text: tt.text}
			reply := transport.next(t)
			if reply.chatID != adminID {
				t.Errorf("Expected reply to %d, got %d", adminID, reply.chatID)
			}
			for _, want := range tt.want {
				if !strings.Contains(reply.text, want) {
					t.Errorf("Expected reply to contain %q, got:\n%s", want, reply.text)
				}
			}
		})
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.extended) != 2 || ctrl.extended[0] != 30 || ctrl.extended[1] != 15 {
		t.Errorf("Expected extensions [30 15], got %v", ctrl.extended)
	}
}

func TestBotAuthorizesBySender(t *testing.T) {
	const groupChat = -100123
	ctrl := &fakeController{}
	_, transport := startBot(t, ctrl, 8)

	// Another member of a group the admin is in.
	transport.inbound <- Message{SenderID: 7, ChatID: groupChat, Text: "/extend 60"}
	// The admin writing in that group.
	transport.inbound <- Message{SenderID: adminID, ChatID: groupChat, Text: "/extend 5"}

	reply := transport.next(t)
	if reply.chatID != groupChat || !strings.Contains(reply.text, "Extended by 5 minutes") {
		t.Errorf("Expected group reply to the admin's command, got %d %q", reply.chatID, reply.text)
	}
	if n := transport.count(); n != 1 {
		t.Errorf("Expected exactly one message sent, got %d", n)
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.extended) != 1 || ctrl.extended[0] != 5 {
		t.Errorf("Expected only the admin's extension, got %v", ctrl.extended)
	}
}

func TestBotIgnoresUnauthorizedSenders(t *testing.T) {
	ctrl := &fakeController{}
	_, transport := startBot(t, ctrl, 8)

	transport.inbound <- Message{SenderID: 1, ChatID: 1, Text: "/extend 60"}
	transport.inbound <- Message{SenderID: 0, ChatID: adminID, Text: "/status"}
	// A following authorized message proves the earlier ones were processed.
	transport.inbound <- Message{SenderID: adminID, ChatID: adminID, Text: "/time"}

	reply := transport.next(t)
	if !strings.HasPrefix(reply.text, "Remaining today") {
		t.Errorf("Expected only the authorized reply, got %q", reply.text)
	}
	if n := transport.count(); n != 1 {
		t.Errorf("Expected exactly one message sent, got %d", n)
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.extended) != 0 {
		t.Errorf("Expected no extension from unauthorized sender, got %v", ctrl.extended)
	}
}

func TestBotReportsPersistFailure(t *testing.T) {
	ctrl := &fakeController{err: errors.Join(quota.ErrPersist, errors.New("disk full"))}
	_, transport := startBot(t, ctrl, 8)

	transport.inbound <- Message{SenderID: adminID, ChatID: adminID, Text: "/extend 10"}
	if reply := transport.next(t); !strings.Contains(reply.text, "Could not save") {
		t.Errorf("Expected persistence failure reply, got %q", reply.text)
	}
}

func TestBotNotifications(t *testing.T) {
	bot, transport := startBot(t, &fakeController{}, 8)

	bot.Notify(quota.Event{Kind: quota.EventWarning, Message: "5 minutes remaining!", RemainingSeconds: 300})
	bot.Notify(quota.Event{Kind: quota.EventPaused, Message: "ignored"})
	bot.Notify(quota.Event{Kind: quota.EventBlocked, Message: "Bed time"})

	first := transport.next(t)
	if first.chatID != adminID || !strings.Contains(first.text, "5 minutes remaining!") {
		t.Errorf("Unexpected warning notification: %+v", first)
	}
	second := transport.next(t)
	if !strings.Contains(second.text, "Bed time") {
		t.Errorf("Unexpected blocked notification: %+v", second)
	}
}

func TestNotifyDropsWhenQueueFull(t *testing.T) {
	transport := newFakeTransport()
	bot := NewBot(transport, &fakeController{}, Config{AdminUserID: adminID, NotifyBuffer: 1}, zerolog.Nop())

	// Not running, so nothing drains the queue.
	done := make(chan struct{})
	go func() {
		bot.Announce("one")
		bot.Announce("two")
		bot.Notify(quota.Event{Kind: quota.EventBlocked, Message: "three"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full queue")
	}
	if n := len(bot.notify); n != 1 {
		t.Errorf("Expected one queued notification, got %d", n)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text    string
		command string
		args    []string
	}{
		{"/status", "/status", nil},
		{"  /Extend   30 ", "/extend", []string{"30"}},
		{"/history@ktime_bot 2024-03-01", "/history", []string{"2024-03-01"}},
		{"", "", nil},
	}

	for _, tt := range tests {
		command, args := parseCommand(tt.text)
		if command != tt.command {
			t.Errorf("parseCommand(%q) command = %q, want %q", tt.text, command, tt.command)
		}
		if len(args) != len(tt.args) {
			t.Errorf("parseCommand(%q) args = %v, want %v", tt.text, args, tt.args)
			continue
		}
		for i := range args {
			if args[i] != tt.args[i] {
				t.Errorf("parseCommand(%q) args = %v, want %v", tt.text, args, tt.args)
			}
		}
	}
}

func TestDescribeAvailability(t *testing.T) {
	tests := []struct {
		in   quota.Availability
		want string
	}{
		{quota.Availability{Kind: quota.ResumeAvailable}, "paused, resume available"},
		{quota.Availability{Kind: quota.Disabled}, "pauses are disabled"},
		{quota.Availability{Kind: quota.Cooldown, Seconds: 90}, "cooling down, available in 1m 30s"},
		{quota.Availability{Kind: quota.NeedMoreActiveTime, Seconds: 600}, "available after 10m 00s more use"},
		{quota.Availability{Kind: quota.Available, Seconds: 2700}, "available, 45m 00s of pause left"},
	}

	for _, tt := range tests {
		if got := DescribeAvailability(tt.in); got != tt.want {
			t.Errorf("DescribeAvailability(%s) = %q, want %q", tt.in.Kind, got, tt.want)
		}
	}
}
