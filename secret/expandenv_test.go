package secret

import (
	"strings"
	"testing"
)

func mapLookup(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestExpand(t *testing.T) {
	lookup := mapLookup(map[string]string{"HOST": "smtp.example.com", "PORT": "587"})

	tests := []struct {
		in      string
		want    string
		wantErr string
	}{
		{"${HOST}:${PORT}", "smtp.example.com:587", ""},
		{"$HOST", "smtp.example.com", ""},
		{"$UNSET-x", "-x", ""},
		{"$$${PORT}", "$587", ""},
		{"${B_MISSING} ${A_MISSING} ${A_MISSING}", "", "A_MISSING, B_MISSING"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Expand(tt.in, lookup)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Expand() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("Expand() = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestExpandEnvStrict(t *testing.T) {
	t.Setenv("SENDGUARD_TEST_REGION", "eu-west-1")

	got, err := ExpandEnvStrict("ses-${SENDGUARD_TEST_REGION}")
	if err != nil || got != "ses-eu-west-1" {
		t.Fatalf("ExpandEnvStrict() = %q, %v", got, err)
	}
}
