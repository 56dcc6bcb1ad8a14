package jwtkeys

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

var (
	// ErrKeyNotFound is returned when a kid cannot be resolved to a signing key.
	ErrKeyNotFound = errors.New("jwtkeys: signing key not found")
	errNoActiveKey = errors.New("jwtkeys: no active signing key available")
	errReadOnly    = errors.New("jwtkeys: manager is read-only")
)

// KeyProvider resolves signing keys for JWT verification.
type KeyProvider interface {
	ResolveKey(kid string) ([]byte, error)
	LegacyKey() []byte
}

// SigningKey is a versioned JWT signing secret.
type SigningKey struct {
	ID        string    `json:"id"`
	Secret    string    `json:"secret"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
}

// SecretBytes decodes the base64-encoded secret.
func (k *SigningKey) SecretBytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(k.Secret)
}

func (k *SigningKey) usable(now time.Time) bool {
	return !k.Revoked && now.Before(k.ExpiresAt)
}

// Store abstracts persistence for signing keys.
type Store interface {
	Load(ctx context.Context) ([]SigningKey, error)
	Save(ctx context.Context, keys []SigningKey) error
}

// Config drives the behaviour of the Manager.
type Config struct {
	KeyFilePath      string
	RotationInterval time.Duration
	GracePeriod      time.Duration
	LegacySecret     string
	ReadOnly         bool
	Store            Store
}

// Manager keeps a ring of signing keys, rotating the newest in and
// pruning expired ones out. Verification accepts any unexpired key so
// tokens survive a rotation for the grace period.
type Manager struct {
	mu       sync.RWMutex
	ring     []SigningKey // newest first
	store    Store
	rotation time.Duration
	grace    time.Duration
	legacy   []byte
	readOnly bool
}

// NewManager loads the key ring from the configured store, seeding an
// initial key when the store is empty and writes are allowed.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.RotationInterval <= 0 {
		cfg.RotationInterval = 30 * 24 * time.Hour
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 30 * 24 * time.Hour
	}

	store := cfg.Store
	if store == nil {
		if cfg.KeyFilePath == "" {
			store = &memoryStore{}
		} else {
			store = &fileStore{path: cfg.KeyFilePath}
		}
	}

	m := &Manager{
		store:    store,
		rotation: cfg.RotationInterval,
		grace:    cfg.GracePeriod,
		legacy:   []byte(cfg.LegacySecret),
		readOnly: cfg.ReadOnly,
	}

	if err := m.Reload(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ring) == 0 && !m.readOnly {
		if err := m.rotateLocked(ctx, time.Now(), m.legacy); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Reload refreshes the in-memory ring from the store.
func (m *Manager) Reload(ctx context.Context) error {
	keys, err := m.store.Load(ctx)
	if err != nil {
		return err
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.After(keys[j].CreatedAt) })

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(keys) > 0 {
		m.ring = keys
	}
	return nil
}

// CurrentSigningKey returns the key new tokens should be signed with.
func (m *Manager) CurrentSigningKey() (*SigningKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	for i := range m.ring {
		if m.ring[i].usable(now) {
			key := m.ring[i]
			return &key, nil
		}
	}
	return nil, errNoActiveKey
}

// EnsureRotation rotates in a fresh key once the newest key is older
// than the rotation interval, and drops keys past their grace period.
func (m *Manager) EnsureRotation(ctx context.Context) error {
	if m.readOnly {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if len(m.ring) == 0 || now.Sub(m.ring[0].CreatedAt) >= m.rotation {
		if err := m.rotateLocked(ctx, now, nil); err != nil {
			return err
		}
	}

	kept := m.ring[:0]
	pruned := false
	for _, key := range m.ring {
		if key.usable(now) {
			kept = append(kept, key)
		} else {
			pruned = true
		}
	}
	if !pruned {
		return nil
	}
	m.ring = kept
	return m.store.Save(ctx, append([]SigningKey(nil), m.ring...))
}

// ResolveKey implements KeyProvider for JWT verification.
func (m *Manager) ResolveKey(kid string) ([]byte, error) {
	if kid == "" {
		return nil, ErrKeyNotFound
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	for i := range m.ring {
		if m.ring[i].ID == kid && m.ring[i].usable(now) {
			return m.ring[i].SecretBytes()
		}
	}
	return nil, ErrKeyNotFound
}

// LegacyKey returns the static secret used before key versioning.
func (m *Manager) LegacyKey() []byte {
	return m.legacy
}

// StartAutoRotation checks rotation in the background until ctx ends.
func (m *Manager) StartAutoRotation(ctx context.Context) {
	if m.readOnly {
		return
	}

	interval := m.rotation / 4
	if interval <= 0 {
		interval = time.Hour
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = m.EnsureRotation(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StartAutoRefresh reloads the ring from the store at the given interval,
// for read-only replicas that follow a writer's key file.
func (m *Manager) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = m.Reload(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *Manager) rotateLocked(ctx context.Context, now time.Time, secret []byte) error {
	if m.readOnly {
		return errReadOnly
	}

	if len(secret) == 0 {
		secret = make([]byte, 48)
		if _, err := rand.Read(secret); err != nil {
			return err
		}
	}

	kidBuf := make([]byte, 8)
	if _, err := rand.Read(kidBuf); err != nil {
		return err
	}

	key := SigningKey{
		ID:        "k" + hex.EncodeToString(kidBuf),
		Secret:    base64.StdEncoding.EncodeToString(secret),
		CreatedAt: now,
		ExpiresAt: now.Add(m.rotation + m.grace),
	}
	m.ring = append([]SigningKey{key}, m.ring...)
	return m.store.Save(ctx, append([]SigningKey(nil), m.ring...))
}

type fileStore struct {
	path string
}

func (s *fileStore) Load(_ context.Context) ([]SigningKey, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var keys []SigningKey
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *fileStore) Save(_ context.Context, keys []SigningKey) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

type memoryStore struct {
	mu   sync.RWMutex
	keys []SigningKey
}

func (s *memoryStore) Load(_ context.Context) ([]SigningKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SigningKey(nil), s.keys...), nil
}

func (s *memoryStore) Save(_ context.Context, keys []SigningKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append([]SigningKey(nil), keys...)
	return nil
}

// StaticProvider backs KeyProvider with a single fixed secret, for tests
// and deployments that have not enabled key rotation.
type StaticProvider struct {
	secret []byte
}

// NewStaticProvider creates a KeyProvider that ignores kid values.
func NewStaticProvider(secret string) KeyProvider {
	return &StaticProvider{secret: []byte(secret)}
}

// ResolveKey returns the static secret for any kid.
func (p *StaticProvider) ResolveKey(string) ([]byte, error) {
	if len(p.secret) == 0 {
		return nil, ErrKeyNotFound
	}
	return p.secret, nil
}

// LegacyKey returns the static secret.
func (p *StaticProvider) LegacyKey() []byte {
	return p.secret
}
