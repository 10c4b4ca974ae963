package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goodtune/ktime/internal/storage"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const (
	// KeyPasscodeHash holds the bcrypt hash of the passcode.
	KeyPasscodeHash = "passcode_hash"

	// keyLegacyPasscode is the plain-text passcode written by older installs.
	keyLegacyPasscode = "passcode"

	// DefaultBcryptCost is the cost factor for bcrypt passcode hashing.
	DefaultBcryptCost = 12

	// PasscodeLength is the number of digits in a passcode.
	PasscodeLength = 4
)

var (
	// ErrPasscodeFormat is returned when a passcode is not four digits.
	ErrPasscodeFormat = errors.New("passcode must be exactly 4 digits")
)

// Authenticator verifies passcodes against a stored bcrypt hash.
type Authenticator struct {
	store  storage.Store
	cost   int
	hash   []byte
	logger zerolog.Logger
	mu     sync.RWMutex
}

// NewAuthenticator loads the passcode hash, migrating a legacy plain-text
// passcode or seeding initial when none is stored.
func NewAuthenticator(ctx context.Context, store storage.Store, initial string, cost int, logger zerolog.Logger) (*Authenticator, error) {
	if cost == 0 {
		cost = DefaultBcryptCost
	}

	a := &Authenticator{
		store:  store,
		cost:   cost,
		logger: logger.With().Str("component", "auth").Logger(),
	}

	hash, err := store.Get(ctx, KeyPasscodeHash)
	if err == nil && hash != "" {
		a.hash = []byte(hash)
		return a, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to read passcode hash: %w", err)
	}

	seed := initial
	legacy, err := store.Get(ctx, keyLegacyPasscode)
	switch {
	case err == nil && legacy != "":
		seed = legacy
		a.logger.Info().Msg("Migrating plain-text passcode to bcrypt hash")
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("failed to read legacy passcode: %w", err)
	}

	h, err := a.Hash(seed)
	if err != nil {
		return nil, err
	}
	if err := store.Put(ctx, map[string]string{KeyPasscodeHash: h}); err != nil {
		return nil, fmt.Errorf("failed to store passcode hash: %w", err)
	}
	if err := store.Delete(ctx, keyLegacyPasscode); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to remove legacy passcode")
	}

	a.hash = []byte(h)
	return a, nil
}

// Verify reports whether code matches the stored passcode.
func (a *Authenticator) Verify(code string) bool {
	a.mu.RLock()
	hash := a.hash
	a.mu.RUnlock()

	if len(hash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(code)) == nil
}

// Hash hashes code using bcrypt.
func (a *Authenticator) Hash(code string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(code), a.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash passcode: %w", err)
	}
	return string(h), nil
}

// setHash replaces the in-memory hash after it has been persisted.
func (a *Authenticator) setHash(h string) {
	a.mu.Lock()
	a.hash = []byte(h)
	a.mu.Unlock()
}

// ValidPasscode reports whether code is exactly four ASCII digits.
func ValidPasscode(code string) bool {
	if len(code) != PasscodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
