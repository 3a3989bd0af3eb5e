package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random record key. A non-empty prefix is joined with a dash.
func New(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}
