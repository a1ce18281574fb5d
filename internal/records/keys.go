package records

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// KeySource hands out the per-document key embedded in record IDs.
type KeySource interface {
	Next() string
}

// MonotonicKeys issues keys of the form <unix-ms>-<8 hex>. The millisecond
// part strictly increases within the process (last+1 when the clock has not
// advanced); the random suffix separates keys minted by different processes
// in the same millisecond.
type MonotonicKeys struct {
	mu    sync.Mutex
	last  int64
	now   func() time.Time
	token func() string
}

// NewMonotonicKeys returns a KeySource backed by the wall clock.
func NewMonotonicKeys() *MonotonicKeys {
	return &MonotonicKeys{now: time.Now, token: randomToken}
}

// Next returns the next document key.
func (k *MonotonicKeys) Next() string {
	k.mu.Lock()
	defer k.mu.Unlock()

	ms := k.now().UnixMilli()
	if ms <= k.last {
		ms = k.last + 1
	}
	k.last = ms

	token := k.token
	if token == nil {
		token = randomToken
	}
	return strconv.FormatInt(ms, 10) + "-" + token()
}

func randomToken() string {
	u := uuid.New()
	return strings.ReplaceAll(u.String(), "-", "")[:8]
}
