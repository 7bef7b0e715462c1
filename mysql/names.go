package mysql

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// maxLockNameLen is the longest name GET_LOCK accepts.
const maxLockNameLen = 64

func sanitizeTableName(name string) (string, error) {
	if name == "" {
		return "", ErrTableNameRequired
	}
	for _, part := range strings.Split(name, ".") {
		if part == "" || strings.IndexFunc(part, invalidIdentRune) >= 0 {
			return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
		}
	}

	return name, nil
}

func invalidIdentRune(r rune) bool {
	return r != '_' && (r < '0' || r > '9') && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z')
}

// lockName builds an advisory lock name for key. Names that would exceed the GET_LOCK limit are
// replaced by a name-based UUID of the key so distinct keys stay distinct.
func lockName(prefix, key string) string {
	name := prefix + key
	if len(name) <= maxLockNameLen {
		return name
	}

	return prefix + uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}
