package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/ktime/internal/quota"
	"github.com/goodtune/ktime/internal/storage/bolt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const testCode = "1234"

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	server *Server
	engine *quota.Engine
	clock  *quota.ManualClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "ktime.bolt"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	logger := zerolog.Nop()

	auth, err := quota.NewAuthenticator(ctx, store, testCode, bcrypt.MinCost, logger)
	if err != nil {
		t.Fatalf("Failed to create authenticator: %v", err)
	}

	clock := quota.NewManualClock(time.Date(2024, time.March, 4, 10, 0, 0, 0, time.UTC))
	engine, err := quota.NewEngine(ctx, store, auth, quota.Config{
		Clock:    clock,
		Location: time.UTC,
		Defaults: quota.DefaultSettings(),
	}, logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	return &testEnv{
		server: NewServer(Config{ListenAddr: "127.0.0.1:0"}, engine, logger),
		engine: engine,
		clock:  clock,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("Failed to decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestGetStatus(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	resp := decode[StatusResponse](t, rec)
	if resp.Status != quota.StatusActive {
		t.Errorf("Expected active, got %s", resp.Status)
	}
	if resp.RemainingSeconds != 7200 {
		t.Errorf("Expected 7200 remaining, got %d", resp.RemainingSeconds)
	}
	if resp.Remaining != "2h 00m" {
		t.Errorf("Expected 2h 00m, got %q", resp.Remaining)
	}
	if resp.Availability.Kind != quota.NeedMoreActiveTime {
		t.Errorf("Expected need_more_active_time, got %s", resp.Availability.Kind)
	}
}

func TestGetStatusBlocked(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 2; i++ {
		env.clock.Advance(time.Hour)
		if err := env.engine.Tick(context.Background()); err != nil {
			t.Fatalf("Tick failed: %v", err)
		}
	}

	resp := decode[StatusResponse](t, env.do(t, http.MethodGet, "/api/status", nil))
	if resp.Status != quota.StatusBlocked || resp.RemainingSeconds != 0 {
		t.Errorf("Expected blocked with nothing left, got %s with %d", resp.Status, resp.RemainingSeconds)
	}
	if resp.Availability.Kind != quota.TimeTooLow {
		t.Errorf("Expected time_too_low, got %s", resp.Availability.Kind)
	}
}

// overviewOnly serves status from a single consistent overview; any other
// query panics through the nil embedded Controller.
type overviewOnly struct {
	Controller
	state quota.SessionState
	avail quota.Availability
}

func (o overviewOnly) Overview(ctx context.Context) (quota.SessionState, quota.Availability) {
	return o.state, o.avail
}

func TestGetStatusUsesSingleOverview(t *testing.T) {
	ctrl := overviewOnly{
		state: quota.SessionState{Date: "2024-03-04", Status: quota.StatusPaused, RemainingSeconds: 1800},
		avail: quota.Availability{Kind: quota.ResumeAvailable},
	}
	server := NewServer(Config{}, ctrl, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[StatusResponse](t, rec)
	if resp.Status != quota.StatusPaused || resp.RemainingSeconds != 1800 || resp.Remaining != "30m 00s" {
		t.Errorf("Unexpected status %+v", resp)
	}
	if resp.Availability.Kind != quota.ResumeAvailable {
		t.Errorf("Expected resume_available, got %s", resp.Availability.Kind)
	}
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	id := rec.Header().Get(RequestIDHeader)
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("Expected uuid request id, got %q", id)
	}

	supplied := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/api/pause", nil)
	req.Header.Set(RequestIDHeader, supplied)
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != supplied {
		t.Errorf("Expected supplied id %s, got %s", supplied, got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/pause", nil)
	req.Header.Set(RequestIDHeader, "not-a-uuid")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got == "not-a-uuid" {
		t.Error("Expected malformed request id to be replaced")
	}
}

func TestCommandOutcomes(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name        string
		method      string
		path        string
		body        interface{}
		wantCode    int
		wantOutcome quota.Outcome
	}{
		{"pause too early", http.MethodPost, "/api/pause", nil, http.StatusConflict, quota.OutcomePauseDenied},
		{"resume not paused", http.MethodPost, "/api/resume", nil, http.StatusConflict, quota.OutcomeNotPaused},
		{"extend wrong code", http.MethodPost, "/api/extend", ExtendRequest{Minutes: 15, Code: "9999"}, http.StatusForbidden, quota.OutcomeUnauthorized},
		{"extend zero minutes", http.MethodPost, "/api/extend", ExtendRequest{Minutes: 0, Code: testCode}, http.StatusConflict, quota.OutcomeInvalidAmount},
		{"extend too many minutes", http.MethodPost, "/api/extend", ExtendRequest{Minutes: 121, Code: testCode}, http.StatusConflict, quota.OutcomeInvalidAmount},
		{"extend", http.MethodPost, "/api/extend", ExtendRequest{Minutes: 15, Code: testCode}, http.StatusOK, quota.OutcomeApplied},
		{"unlock not blocked", http.MethodPost, "/api/unlock", CodeRequest{Code: testCode}, http.StatusConflict, quota.OutcomeNotBlocked},
		{"unlock wrong code", http.MethodPost, "/api/unlock", CodeRequest{Code: "0000"}, http.StatusForbidden, quota.OutcomeUnauthorized},
		{"reset", http.MethodPost, "/api/reset", CodeRequest{Code: testCode}, http.StatusOK, quota.OutcomeApplied},
		{"passcode mismatch", http.MethodPost, "/api/passcode", PasscodeRequest{Old: testCode, New: "5678", Confirm: "5679"}, http.StatusConflict, quota.OutcomePasscodeMismatch},
		{"passcode format", http.MethodPost, "/api/passcode", PasscodeRequest{Old: testCode, New: "12ab", Confirm: "12ab"}, http.StatusConflict, quota.OutcomePasscodeFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("Expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			resp := decode[CommandResponse](t, rec)
			if resp.Outcome != tt.wantOutcome {
				t.Errorf("Expected outcome %s, got %s", tt.wantOutcome, resp.Outcome)
			}
		})
	}
}

func TestPauseAndResume(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.clock.Advance(11 * time.Minute)
	if err := env.engine.Tick(ctx); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/api/pause", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[CommandResponse](t, rec)
	if resp.Status != quota.StatusPaused {
		t.Errorf("Expected paused, got %s", resp.Status)
	}

	env.clock.Advance(5 * time.Minute)
	rec = env.do(t, http.MethodPost, "/api/resume", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	stats := decode[quota.DayStats](t, env.do(t, http.MethodGet, "/api/stats", nil))
	if stats.PauseCount != 1 {
		t.Errorf("Expected 1 pause, got %d", stats.PauseCount)
	}
	if stats.PauseUsedSeconds != 300 {
		t.Errorf("Expected 300 pause seconds, got %d", stats.PauseUsedSeconds)
	}
	if stats.UsedSeconds != 660 {
		t.Errorf("Expected 660 used seconds, got %d", stats.UsedSeconds)
	}

	avail := decode[quota.Availability](t, env.do(t, http.MethodGet, "/api/pause", nil))
	if avail.Kind != quota.Cooldown {
		t.Errorf("Expected cooldown after resume, got %s", avail.Kind)
	}
}

func TestMalformedBody(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/extend", "/api/unlock", "/api/reset", "/api/passcode"} {
		t.Run(path, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, path, "{not json")
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", rec.Code)
			}
		})
	}

	rec := env.do(t, http.MethodPut, "/api/settings", "[]")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for settings, got %d", rec.Code)
	}
}

func TestUpdateSettings(t *testing.T) {
	env := newTestEnv(t)

	current := decode[SettingsPayload](t, env.do(t, http.MethodGet, "/api/settings", nil))
	if current.Limits["monday"] != 7200 {
		t.Fatalf("Expected monday limit 7200, got %d", current.Limits["monday"])
	}

	current.Limits["saturday"] = 5 * 3600
	current.Pause.CooldownSeconds = 300

	rec := env.do(t, http.MethodPut, "/api/settings", SettingsRequest{Settings: current, Code: "4321"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("Expected 403, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPut, "/api/settings", SettingsRequest{Settings: current, Code: testCode})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	updated := decode[SettingsPayload](t, env.do(t, http.MethodGet, "/api/settings", nil))
	if updated.Limits["saturday"] != 5*3600 {
		t.Errorf("Expected saturday limit 18000, got %d", updated.Limits["saturday"])
	}
	if updated.Pause.CooldownSeconds != 300 {
		t.Errorf("Expected cooldown 300, got %d", updated.Pause.CooldownSeconds)
	}

	bad := updated
	bad.Limits = map[string]int64{"funday": 60}
	rec = env.do(t, http.MethodPut, "/api/settings", SettingsRequest{Settings: bad, Code: testCode})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown weekday, got %d", rec.Code)
	}

	invalid := updated
	invalid.Limits = map[string]int64{"monday": 60}
	rec = env.do(t, http.MethodPut, "/api/settings", SettingsRequest{Settings: invalid, Code: testCode})
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for incomplete limits, got %d", rec.Code)
	}
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t)

	list := decode[HistoryListResponse](t, env.do(t, http.MethodGet, "/api/history", nil))
	if len(list.Dates) != 1 || list.Dates[0] != "2024-03-04" {
		t.Errorf("Expected [2024-03-04], got %v", list.Dates)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/api/history/2024-03-04", http.StatusOK},
		{"/api/history/2024-02-30", http.StatusBadRequest},
		{"/api/history/yesterday", http.StatusBadRequest},
		{"/api/history/2020-01-01", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path, nil)
			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

// persistFailing fails every pause with a persistence error.
type persistFailing struct {
	Controller
}

func (persistFailing) RequestPause(ctx context.Context) (quota.Result, error) {
	return quota.Result{}, quota.ErrPersist
}

func TestPersistFailureIsUnavailable(t *testing.T) {
	server := NewServer(Config{}, persistFailing{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/pause", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
}
