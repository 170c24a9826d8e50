package hostagent

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// EncodeEnvFile renders env as KEY=value lines sorted by key. Lines are
// separated by a single 0x0A byte and the output ends with one. Keys must be
// shell identifiers and values may not contain line breaks.
func EncodeEnvFile(env map[string]string) (string, error) {
	keys := make([]string, 0, len(env))
	for k, v := range env {
		if !envKeyPattern.MatchString(k) {
			return "", fmt.Errorf("invalid env key %q", k)
		}
		if strings.ContainsAny(v, "\n\r") {
			return "", fmt.Errorf("env value for %s contains a line break", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(env[k])
		b.WriteByte(0x0A)
	}
	return b.String(), nil
}
