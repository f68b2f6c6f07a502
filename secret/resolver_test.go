package secret

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseSecretRef(t *testing.T) {
	provider, ref, ok := ParseSecretRef("secretref:file:/run/secrets/a:b")
	if !ok || provider != "file" || ref != "/run/secrets/a:b" {
		t.Fatalf("ParseSecretRef() = %q %q %v", provider, ref, ok)
	}
	for _, bad := range []string{"plain", "secretref:", "secretref:env", "secretref::x", "secretref:env:"} {
		if _, _, ok := ParseSecretRef(bad); ok {
			t.Errorf("ParseSecretRef(%q) should fail", bad)
		}
	}
}

func TestResolver(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "jwt"), []byte("s3cret\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	lookup := mapLookup(map[string]string{
		"SMTP_PASSWORD": "hunter2",
		"EMPTY":         "",
		"SECRET_DIR":    dir,
	})
	r := NewDefaultResolver(lookup, dir)
	ctx := context.Background()

	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"secretref:env:SMTP_PASSWORD", "hunter2"},
		{"secretref:file:jwt", "s3cret"},
		{"secretref:file:${SECRET_DIR}/jwt", "s3cret"},
		{"Bearer secretref:env:SMTP_PASSWORD", "Bearer hunter2"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := r.ResolveValue(ctx, tt.in)
			if err != nil || got != tt.want {
				t.Fatalf("ResolveValue() = %q, %v; want %q", got, err, tt.want)
			}
		})
	}

	if _, err := r.ResolveValue(ctx, "secretref:env:NOPE"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing env error = %v", err)
	}
	if _, err := r.ResolveValue(ctx, "secretref:file:nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing file error = %v", err)
	}
	if _, err := r.ResolveValue(ctx, "secretref:env:EMPTY"); err == nil {
		t.Error("strict resolver must reject empty values")
	}
	if _, err := r.ResolveValue(ctx, "secretref:vault:x"); err == nil {
		t.Error("unknown provider must fail")
	}
}

func TestResolver_ResolveInPlace(t *testing.T) {
	r := NewDefaultResolver(mapLookup(map[string]string{"PW": "pw"}), "")
	password, user, empty := "secretref:env:PW", "ops", ""

	err := r.ResolveInPlace(context.Background(), map[string]*string{
		"password": &password,
		"user":     &user,
		"empty":    &empty,
		"nil":      nil,
	})
	if err != nil {
		t.Fatalf("ResolveInPlace() error = %v", err)
	}
	if password != "pw" || user != "ops" || empty != "" {
		t.Errorf("resolved = %q %q %q", password, user, empty)
	}

	bad := "${MISSING}"
	if err := r.ResolveInPlace(context.Background(), map[string]*string{"bad": &bad}); err == nil {
		t.Error("missing variable should fail")
	}
}
