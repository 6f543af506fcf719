package xid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New returns a random identifier carrying a short type prefix, e.g.
// "inv-6f1c2a1e-...".
func New(prefix string) string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return prefix + "-" + id.String()
}
