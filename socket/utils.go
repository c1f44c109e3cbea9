package socket

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"sync/atomic"
)

var idCounter uint64

// generateID returns a short identifier used to tell clients and
// subscriptions apart in logs.
func generateID() string {
	counter := atomic.AddUint64(&idCounter, 1)
	suffix := make([]byte, 8)
	binary.BigEndian.PutUint64(suffix, counter)

	id := make([]byte, 6)
	if _, err := rand.Read(id); err != nil {
		return hex.EncodeToString(suffix)
	}

	return hex.EncodeToString(id) + "-" + hex.EncodeToString(suffix)[12:]
}
