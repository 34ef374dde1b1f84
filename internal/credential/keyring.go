package credential

import (
	"errors"
	"fmt"
	"sync"

	"github.com/99designs/keyring"
)

const serviceName = "ticketdesk"

// Keys under which the credential pair is persisted. They are always
// written and removed together.
const (
	AccessTokenKey  = "access-token"
	RefreshTokenKey = "refresh-token"
)

// Pair is the access/refresh token pair issued by the helpdesk on login.
// Both values are opaque to the client.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// OpenKeyring returns a keyring backed by the platform secret store,
// falling back to an encrypted file under dir.
func OpenKeyring(dir string) (keyring.Keyring, error) {
	if dir == "" {
		dir = "~/.config/ticketdesk/credentials"
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  dir,
		FilePasswordFunc:         keyring.FixedStringPrompt("ticketdesk-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Store owns the session's credential pair. It is the only writer of the
// persisted tokens; every other component reads through Get.
//
// Each Set or Clear advances a generation counter. Callers that start
// long-running work against the current pair (a token refresh) record the
// generation first and publish their result with SetIf, so that a logout
// or re-login in the meantime wins.
type Store struct {
	ring keyring.Keyring

	mu         sync.RWMutex
	pair       Pair
	present    bool
	generation uint64
}

// NewStore creates a Store on top of ring and loads any pair persisted by
// a previous process. A half-written pair is discarded.
func NewStore(ring keyring.Keyring) (*Store, error) {
	s := &Store{ring: ring}

	pair, ok, err := s.load()
	if err != nil {
		return nil, err
	}
	if ok {
		s.pair = pair
		s.present = true
	}

	return s, nil
}

// Get returns the current pair and whether one is present.
func (s *Store) Get() (Pair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair, s.present
}

// Generation reports the current generation counter.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Set persists pair and makes it visible to all readers.
func (s *Store) Set(pair Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(pair)
}

// SetIf replaces the pair only when the generation still equals gen. It
// reports whether the replacement happened.
func (s *Store) SetIf(gen uint64, pair Pair) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen || !s.present {
		return false, nil
	}
	if err := s.setLocked(pair); err != nil {
		return false, err
	}
	return true, nil
}

// Clear removes the pair from memory and from the keyring.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked()
}

// ClearIf clears the pair only when the generation still equals gen. It
// reports whether anything was cleared.
func (s *Store) ClearIf(gen uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen || !s.present {
		return false, nil
	}
	// The in-memory pair is gone even if the keyring removal failed.
	return true, s.clearLocked()
}

func (s *Store) setLocked(pair Pair) error {
	if err := s.ring.Set(keyring.Item{
		Key:  AccessTokenKey,
		Data: []byte(pair.AccessToken),
	}); err != nil {
		return fmt.Errorf("setting credential %q: %w", AccessTokenKey, err)
	}

	if err := s.ring.Set(keyring.Item{
		Key:  RefreshTokenKey,
		Data: []byte(pair.RefreshToken),
	}); err != nil {
		// Never leave an access token persisted without its refresh token.
		_ = s.ring.Remove(AccessTokenKey)
		return fmt.Errorf("setting credential %q: %w", RefreshTokenKey, err)
	}

	s.pair = pair
	s.present = true
	s.generation++
	return nil
}

func (s *Store) clearLocked() error {
	s.pair = Pair{}
	s.present = false
	s.generation++

	var errs []error
	for _, key := range []string{AccessTokenKey, RefreshTokenKey} {
		if err := s.ring.Remove(key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
			errs = append(errs, fmt.Errorf("deleting credential %q: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Store) load() (Pair, bool, error) {
	access, err := s.get(AccessTokenKey)
	if err != nil {
		return Pair{}, false, err
	}
	refresh, err := s.get(RefreshTokenKey)
	if err != nil {
		return Pair{}, false, err
	}

	switch {
	case access == "" && refresh == "":
		return Pair{}, false, nil
	case access == "" || refresh == "":
		_ = s.ring.Remove(AccessTokenKey)
		_ = s.ring.Remove(RefreshTokenKey)
		return Pair{}, false, nil
	}

	return Pair{AccessToken: access, RefreshToken: refresh}, true, nil
}

func (s *Store) get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}
