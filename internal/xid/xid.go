package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns prefix followed by a random uuid without dashes.
func New(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}
