package runtime

import (
	"bytes"
	goruntime "runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// Gate serializes deliveries and lets a closer wait for the running one.
//
// After Close returns, Do never runs its function again and no function run
// by Do is still executing, unless Close was called from inside that function:
// a handler may close its own gate without deadlocking.
type Gate struct {
	mu     sync.Mutex
	closed atomic.Bool
	// owner is the goroutine running fn, 0 when idle
	owner atomic.Int64
}

// Do runs fn unless the gate is closed. It reports whether fn ran.
func (g *Gate) Do(fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed.Load() {
		return false
	}
	g.owner.Store(goroutineID())
	defer g.owner.Store(0)
	fn()
	return true
}

// Close is idempotent.
func (g *Gate) Close() {
	if g.closed.Swap(true) {
		return
	}
	if g.Owned() {
		return
	}
	g.mu.Lock()
	g.mu.Unlock()
}

// Owned reports whether the calling goroutine is the one running fn.
func (g *Gate) Owned() bool {
	return g.owner.Load() == goroutineID()
}

func (g *Gate) Closed() bool {
	return g.closed.Load()
}

var goroutinePrefix = []byte("goroutine ")

// goroutineID parses the current goroutine ID out of the stack header "goroutine 42 [running]:".
func goroutineID() int64 {
	var buf [64]byte
	header := buf[:goruntime.Stack(buf[:], false)]
	header = bytes.TrimPrefix(header, goroutinePrefix)
	if i := bytes.IndexByte(header, ' '); i > 0 {
		header = header[:i]
	}
	id, err := strconv.ParseInt(string(header), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
