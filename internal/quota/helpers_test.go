package quota

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/ktime/internal/storage"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const testPasscode = "1234"

var errStoreDown = errors.New("store down")

// memStore is an in-memory storage.Store with fault injection.
type memStore struct {
	mu       sync.Mutex
	data     map[string]string
	puts     int
	failPuts int
	failGets bool
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (m *memStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGets {
		return "", errStoreDown
	}
	v, ok := m.data[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (m *memStore) Put(ctx context.Context, kv map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPuts > 0 {
		m.failPuts--
		return errStoreDown
	}
	m.puts++
	for k, v := range kv {
		m.data[k] = v
	}
	return nil
}

func (m *memStore) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) value(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *memStore) putCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

func (m *memStore) setFailPuts(n int) {
	m.mu.Lock()
	m.failPuts = n
	m.mu.Unlock()
}

// recorder collects engine events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) ofKind(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// monday is 2024-03-04 10:00 UTC.
var monday = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

// testSettings returns settings with every limit set to limit and no warnings.
func testSettings(limit int64) Settings {
	s := DefaultSettings()
	for d := range s.Limits {
		s.Limits[d] = limit
	}
	s.Warnings = nil
	return s
}

type testEnv struct {
	engine *Engine
	clock  *ManualClock
	store  *memStore
	events *recorder
}

func newTestEnv(t *testing.T, settings Settings) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, settings, newMemStore(), NewManualClock(monday))
}

func newTestEnvWithStore(t *testing.T, settings Settings, store *memStore, clock *ManualClock) *testEnv {
	t.Helper()

	ctx := context.Background()
	auth, err := NewAuthenticator(ctx, store, testPasscode, bcrypt.MinCost, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewAuthenticator failed: %v", err)
	}

	engine, err := NewEngine(ctx, store, auth, Config{
		Clock:    clock,
		Location: time.UTC,
		Defaults: settings,
		Retries:  2,
		Backoff:  time.Millisecond,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	events := &recorder{}
	engine.SetNotifier(events)

	return &testEnv{engine: engine, clock: clock, store: store, events: events}
}

// tick advances the clock by d and ticks once.
func (env *testEnv) tick(t *testing.T, d time.Duration) {
	t.Helper()
	env.clock.Advance(d)
	if err := env.engine.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
}

// tickN ticks n times, one second apart.
func (env *testEnv) tickN(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		env.tick(t, time.Second)
	}
}
