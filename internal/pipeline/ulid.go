package pipeline

import (
	"crypto/rand"
	"sync"
	"time"
)

// Job IDs are ULIDs: 48 bits of millisecond time followed by 80 bits of
// entropy, written as 26 Crockford base32 characters. Within one
// millisecond the entropy is incremented, so IDs sort in creation order.

const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var (
	ulidMu   sync.Mutex
	lastULID [16]byte
	lastMs   uint64
)

func newJobID() string {
	return newULID(time.Now())
}

func newULID(now time.Time) string {
	ulidMu.Lock()
	defer ulidMu.Unlock()

	ms := uint64(now.UnixMilli())
	var id [16]byte
	if ms == lastMs {
		id = lastULID
		for i := 15; i >= 6; i-- {
			id[i]++
			if id[i] != 0 {
				break
			}
		}
	} else {
		for i := range 6 {
			id[i] = byte(ms >> (40 - 8*i))
		}
		rand.Read(id[6:])
		lastMs = ms
	}
	lastULID = id
	return encodeULID(id)
}

// encodeULID writes the 128 bits five at a time from the low end.
func encodeULID(id [16]byte) string {
	var hi, lo uint64
	for i := range 8 {
		hi = hi<<8 | uint64(id[i])
		lo = lo<<8 | uint64(id[8+i])
	}
	var out [26]byte
	for i := 25; i >= 0; i-- {
		out[i] = crockford[lo&31]
		lo = lo>>5 | hi<<59
		hi >>= 5
	}
	return string(out[:])
}

// ulidTime returns the timestamp encoded in the first ten characters.
func ulidTime(id string) (time.Time, bool) {
	if len(id) != 26 {
		return time.Time{}, false
	}
	var ms uint64
	for i := range 10 {
		v := indexCrockford(id[i])
		if v < 0 {
			return time.Time{}, false
		}
		ms = ms<<5 | uint64(v)
	}
	return time.UnixMilli(int64(ms)), true
}

func indexCrockford(c byte) int {
	for i := range len(crockford) {
		if crockford[i] == c {
			return i
		}
	}
	return -1
}
