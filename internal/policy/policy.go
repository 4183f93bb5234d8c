// Package policy gates which command paths may run in this process.
package policy

import (
	"strings"

	clierr "github.com/ggonzalez94/relay/internal/errors"
)

// CheckCommandAllowed accepts commandPath when the allowlist is empty or
// names the path itself or one of its parent groups ("actions" allows
// "actions execute").
func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	normPath := normalize(commandPath)
	for _, allowed := range allowlist {
		norm := normalize(allowed)
		if norm == "" {
			continue
		}
		if norm == normPath || strings.HasPrefix(normPath, norm+" ") {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, "command blocked by --enable-commands policy")
}

func normalize(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), " ")
}
