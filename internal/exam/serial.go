package exam

import (
	"math/rand"
	"sync"
	"time"
)

var serialMu sync.Mutex

// GenerateSerialNumber produces a serial number for a realized exam. Serials
// are time-ordered with a random suffix; the mutex keeps two realizations in
// the same process from colliding within one millisecond.
func GenerateSerialNumber() int64 {
	serialMu.Lock()
	defer serialMu.Unlock()
	return time.Now().UnixMilli()*100 + rand.Int63n(100)
}
