package repo

import (
	"math/rand"
	"sync"
	"time"
)

const tidAlphabet = "234567abcdefghijklmnopqrstuvwxyz"

var (
	tidMu   sync.Mutex
	tidLast int64
	tidClk  = rand.Int63n(32)
)

// NextRev returns a 13-character sortable revision tag derived from the
// current time in microseconds. Strictly monotonic within this process.
func NextRev(now time.Time) string {
	tidMu.Lock()
	defer tidMu.Unlock()

	micros := now.UnixMicro()
	if micros <= tidLast {
		micros = tidLast + 1
	}
	tidLast = micros

	v := micros<<10 | tidClk

	var buf [13]byte
	for i := 12; i >= 0; i-- {
		buf[i] = tidAlphabet[v&0x1f]
		v >>= 5
	}
	return string(buf[:])
}
