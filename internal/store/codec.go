package store

import (
	"math/rand"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/oklog/ulid/v2"
)

// codec encodes containers. ConfigStd keeps map keys sorted and HTML escaping
// on, so the bytes match what encoding/json would produce.
var codec = sonic.ConfigStd

func encode(v any) ([]byte, error) {
	return codec.Marshal(v)
}

func decode(data []byte, v any) error {
	return codec.Unmarshal(data, v)
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a new sortable identifier.
func NewID() ID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ID(ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String())
}
