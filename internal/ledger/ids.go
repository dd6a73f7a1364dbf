package ledger

import (
	"strings"

	"github.com/google/uuid"
)

// NewID generates a prefixed opaque identifier, e.g. "inc_6f1a2b3c4d5e".
// The suffix is the first 12 hex characters of a random UUID, which keeps
// IDs short enough to read in logs while staying collision-resistant for a
// single-writer store.
func NewID(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + raw[:12]
}
