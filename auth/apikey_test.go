package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

func header(k, v string) http.Header {
	h := http.Header{}
	h.Set(k, v)
	return h
}

func TestGenerateAPIKey(t *testing.T) {
	key, hash, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}
	if !strings.HasPrefix(key, APIKeyPrefix) || len(key) != len(APIKeyPrefix)+48 {
		t.Errorf("key = %q", key)
	}
	if hash != HashAPIKey(key) || len(hash) != 64 {
		t.Errorf("hash = %q", hash)
	}

	other, _, _ := GenerateAPIKey()
	if other == key {
		t.Error("keys should be random")
	}
}

func TestAPIKeyAuthenticator(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	store := NewMemoryAPIKeyStore(
		APIKey{ID: "ops", Hash: HashAPIKey("sg_ops"), Principal: "ops-bot", Roles: []string{RoleSender}},
		APIKey{ID: "old", Hash: strings.ToUpper(HashAPIKey("sg_old")), Principal: "old", ExpiresAt: now.Add(-time.Minute)},
	)
	a := NewAPIKeyAuthenticator(APIKeyConfig{Now: func() time.Time { return now }}, store)

	if a.Name() != "api_key" {
		t.Errorf("Name() = %v", a.Name())
	}
	if !a.Supports(header("x-api-key", "k")) || a.Supports(http.Header{}) {
		t.Error("Supports() should follow the X-API-Key header")
	}

	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{"valid", "  sg_ops ", nil},
		{"unknown", "sg_nope", ErrInvalidCredentials},
		{"expired", "sg_old", ErrTokenExpired},
		{"empty", "", ErrMissingCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := a.Authenticate(context.Background(), header(DefaultAPIKeyHeader, tt.key))
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if tt.wantErr != nil {
				if res.Authenticated() || !errors.Is(res.Err, tt.wantErr) {
					t.Errorf("result = %+v, want %v", res, tt.wantErr)
				}
				return
			}
			if !res.Authenticated() {
				t.Fatalf("result = %+v", res)
			}
			id := res.Identity
			if id.Principal != "ops-bot" || id.KeyID != "ops" || id.Method != MethodAPIKey || !id.HasRole(RoleSender) {
				t.Errorf("identity = %+v", id)
			}
		})
	}
}

type failingKeyStore struct{}

func (failingKeyStore) Lookup(context.Context, string) (*APIKey, error) {
	return nil, errors.New("store offline")
}

func TestAPIKeyAuthenticator_StoreError(t *testing.T) {
	a := NewAPIKeyAuthenticator(APIKeyConfig{}, failingKeyStore{})
	if _, err := a.Authenticate(context.Background(), header(DefaultAPIKeyHeader, "k")); err == nil {
		t.Error("store failures must surface as errors")
	}
}

func TestMemoryAPIKeyStore(t *testing.T) {
	s := NewMemoryAPIKeyStore()
	s.Add(APIKey{ID: "a", Hash: "ABC"})
	if s.Len() != 1 {
		t.Errorf("Len() = %d", s.Len())
	}
	k, _ := s.Lookup(context.Background(), "abc")
	if k == nil || k.ID != "a" {
		t.Errorf("Lookup() = %+v", k)
	}
	if k, _ := s.Lookup(context.Background(), "zzz"); k != nil {
		t.Errorf("Lookup(missing) = %+v", k)
	}
}

func TestIdentity_HasRole(t *testing.T) {
	sender := &Identity{Roles: []string{RoleSender}}
	viewer := &Identity{Roles: []string{RoleViewer}}

	if !sender.HasRole(RoleViewer) {
		t.Error("sender should imply viewer")
	}
	if viewer.HasRole(RoleSender) {
		t.Error("viewer must not imply sender")
	}
	var none *Identity
	if none.HasRole(RoleViewer) {
		t.Error("nil identity has no roles")
	}
}
