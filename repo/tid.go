package repo

import (
	"fmt"
	"sync"
	"time"
)

// Revisions are TIDs: 64 bits packed as microseconds-since-epoch shifted
// left 10, OR'd with a clock id, rendered in a base32 alphabet whose
// character order matches numeric order. String comparison of two TIDs
// therefore agrees with timestamp comparison, which is what lets callers
// treat rev strings as a causal order without parsing them.
const tidAlphabet = "234567abcdefghijklmnopqrstuvwxyz"

const tidLen = 13

func formatTID(usec int64, clkid uint32) string {
	v := uint64(usec)<<10 | uint64(clkid&0x3ff)
	var out [tidLen]byte
	for i := tidLen - 1; i >= 0; i-- {
		out[i] = tidAlphabet[v&0x1f]
		v >>= 5
	}
	return string(out[:])
}

func parseTID(s string) (uint64, error) {
	if len(s) != tidLen {
		return 0, fmt.Errorf("tid %q: want %d chars, got %d", s, tidLen, len(s))
	}
	var v uint64
	for i := 0; i < tidLen; i++ {
		idx := -1
		for j := 0; j < len(tidAlphabet); j++ {
			if tidAlphabet[j] == s[i] {
				idx = j
				break
			}
		}
		if idx < 0 {
			return 0, fmt.Errorf("tid %q: invalid character %q", s, s[i])
		}
		v = v<<5 | uint64(idx)
	}
	return v, nil
}

// tidClock issues strictly increasing TIDs. If the wall clock stalls or
// steps backwards, the clock advances by one microsecond instead of
// reissuing a value.
type tidClock struct {
	mu    sync.Mutex
	last  int64 // microseconds
	clkid uint32
	now   func() time.Time
}

func newTIDClock(clkid uint32) *tidClock {
	return &tidClock{clkid: clkid & 0x3ff, now: time.Now}
}

func (c *tidClock) next() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	usec := c.now().UnixMicro()
	if usec <= c.last {
		usec = c.last + 1
	}
	c.last = usec
	return formatTID(usec, c.clkid)
}

// observe tells the clock about an externally issued TID (the previous
// commit's rev) so the next issue lands after it even across restarts.
func (c *tidClock) observe(rev string) {
	v, err := parseTID(rev)
	if err != nil {
		return
	}
	usec := int64(v >> 10)
	c.mu.Lock()
	if usec > c.last {
		c.last = usec
	}
	c.mu.Unlock()
}
