package execution

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// ActionIDPrefix marks identifiers minted by NewActionID.
const ActionIDPrefix = "act_"

func NewActionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return ActionIDPrefix + "unknown"
	}
	return ActionIDPrefix + hex.EncodeToString(b)
}

// IsActionID reports whether v has the shape of a planned action identifier.
func IsActionID(v string) bool {
	return strings.HasPrefix(v, ActionIDPrefix) && len(v) > len(ActionIDPrefix)
}
