package execution

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// NewRunID builds a process-unique release identifier: a high-resolution
// UTC timestamp prefix with a short content hash suffix. It is stable for
// the lifetime of one workflow invocation.
func NewRunID(name string) string {
	now := time.Now().UTC()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s/%d", name, now.UnixNano())))
	return fmt.Sprintf("%sT%s", now.Format("20060102150405.000000"), hex.EncodeToString(sum[:4]))
}
