// Package idgen is the C7 ID-generation utility shared by the workflow and
// checkpoint packages: both id formats are "<prefix>_<UTC
// yyyyMMdd_HHmmss>_<8 lowercase hex>", differing only in prefix.
package idgen

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// New generates an id of the form "<prefix>_<UTC yyyyMMdd_HHmmss>_<8 hex>".
// The 8-hex suffix is taken from a fresh random UUID rather than hand-rolled
// randomness, the same way the rest of the pack mints opaque request/task
// ids (e.g. a2a.Client's TaskID: uuid.New().String()).
func New(prefix string) string {
	ts := time.Now().UTC().Format("20060102_150405")
	return prefix + "_" + ts + "_" + suffix()
}

func suffix() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return raw[:8]
}
