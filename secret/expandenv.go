package secret

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

var defaultLookup LookupFunc = os.LookupEnv

var bracedVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LookupFunc reads a variable, reporting whether it is set.
type LookupFunc func(key string) (string, bool)

// ExpandEnvStrict expands environment variables in s using os.LookupEnv.
func ExpandEnvStrict(s string) (string, error) {
	return Expand(s, os.LookupEnv)
}

// Expand expands variables in s through lookup.
//
// ${VAR} must be set; $VAR expands to "" when unset; $$ is a literal $.
func Expand(s string, lookup LookupFunc) (string, error) {
	const dollar = "\x00SENDGUARD_DOLLAR\x00"
	s = strings.ReplaceAll(s, "$$", dollar)

	var missing []string
	seen := make(map[string]bool)
	for _, m := range bracedVarPattern.FindAllStringSubmatch(s, -1) {
		key := m[1]
		if _, ok := lookup(key); !ok && !seen[key] {
			seen[key] = true
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("secret: missing environment variables: %s", strings.Join(missing, ", "))
	}

	s = os.Expand(s, func(key string) string {
		v, _ := lookup(key)
		return v
	})
	return strings.ReplaceAll(s, dollar, "$"), nil
}
