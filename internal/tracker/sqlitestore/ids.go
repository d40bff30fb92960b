package sqlitestore

import (
	"strings"

	"github.com/google/uuid"
)

// newID returns a 32 character hex id, the run id shape tracking servers use.
func newID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
