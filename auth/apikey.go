package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultAPIKeyHeader carries API keys.
const DefaultAPIKeyHeader = "X-API-Key"

// APIKeyPrefix marks generated keys so they are recognizable in logs.
const APIKeyPrefix = "sg_"

// APIKeyConfig configures the API key authenticator.
type APIKeyConfig struct {
	// HeaderName is the header containing the key. Default: X-API-Key
	HeaderName string

	// Now overrides the clock for expiry checks.
	Now func() time.Time
}

// APIKey is a registered key. Only the hash of the key is kept.
type APIKey struct {
	ID        string    `yaml:"id"`
	Hash      string    `yaml:"hash"`
	Principal string    `yaml:"principal"`
	Roles     []string  `yaml:"roles"`
	ExpiresAt time.Time `yaml:"expiresAt,omitempty"`
}

// APIKeyStore looks keys up by hash.
type APIKeyStore interface {
	// Lookup returns nil when no key has the hash.
	Lookup(ctx context.Context, hash string) (*APIKey, error)
}

// APIKeyAuthenticator validates API keys.
type APIKeyAuthenticator struct {
	config APIKeyConfig
	store  APIKeyStore
}

// NewAPIKeyAuthenticator creates an API key authenticator.
func NewAPIKeyAuthenticator(config APIKeyConfig, store APIKeyStore) *APIKeyAuthenticator {
	if config.HeaderName == "" {
		config.HeaderName = DefaultAPIKeyHeader
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &APIKeyAuthenticator{config: config, store: store}
}

// Name returns "api_key".
func (a *APIKeyAuthenticator) Name() string {
	return string(MethodAPIKey)
}

// Supports reports whether the key header is present.
func (a *APIKeyAuthenticator) Supports(h http.Header) bool {
	return h.Get(a.config.HeaderName) != ""
}

// Authenticate hashes the presented key and looks it up.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, h http.Header) (*Result, error) {
	key := strings.TrimSpace(h.Get(a.config.HeaderName))
	if key == "" {
		return reject(ErrMissingCredentials), nil
	}

	info, err := a.store.Lookup(ctx, HashAPIKey(key))
	if err != nil {
		return nil, fmt.Errorf("auth: lookup api key: %w", err)
	}
	if info == nil {
		return reject(ErrInvalidCredentials), nil
	}

	id := &Identity{
		Principal: info.Principal,
		Roles:     info.Roles,
		Method:    MethodAPIKey,
		KeyID:     info.ID,
		ExpiresAt: info.ExpiresAt,
	}
	if id.Expired(a.config.Now()) {
		return reject(ErrTokenExpired), nil
	}
	return accept(id), nil
}

// HashAPIKey returns the hex SHA-256 of key, the form keys are stored in.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIKey returns a new random key and its hash.
func GenerateAPIKey() (key, hash string, err error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("auth: generate api key: %w", err)
	}
	key = APIKeyPrefix + hex.EncodeToString(buf)
	return key, HashAPIKey(key), nil
}

// MemoryAPIKeyStore is an in-memory APIKeyStore.
type MemoryAPIKeyStore struct {
	mu   sync.RWMutex
	keys map[string]APIKey
}

// NewMemoryAPIKeyStore creates a store holding keys.
func NewMemoryAPIKeyStore(keys ...APIKey) *MemoryAPIKeyStore {
	s := &MemoryAPIKeyStore{keys: make(map[string]APIKey, len(keys))}
	for _, k := range keys {
		s.keys[strings.ToLower(k.Hash)] = k
	}
	return s
}

// Lookup returns a copy of the key with the given hash.
func (s *MemoryAPIKeyStore) Lookup(_ context.Context, hash string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[strings.ToLower(hash)]
	if !ok {
		return nil, nil
	}
	return &k, nil
}

// Add registers or replaces a key.
func (s *MemoryAPIKeyStore) Add(k APIKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[strings.ToLower(k.Hash)] = k
}

// Len returns the number of registered keys.
func (s *MemoryAPIKeyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

var (
	_ Authenticator = (*APIKeyAuthenticator)(nil)
	_ APIKeyStore   = (*MemoryAPIKeyStore)(nil)
)
