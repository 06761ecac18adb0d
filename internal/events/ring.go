package events

// ring is a fixed-capacity circular buffer of events. Append is O(1); on
// overflow the oldest event is overwritten. Not safe for concurrent use;
// the Store serializes access.
type ring struct {
	buf  []Event
	head int // index of the oldest event
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Event, capacity)}
}

// append adds an event, reporting whether the oldest event was evicted.
func (r *ring) append(ev Event) (evicted bool) {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = ev
		r.size++
		return false
	}
	r.buf[r.head] = ev
	r.head = (r.head + 1) % len(r.buf)
	return true
}

// at returns the i-th event in insertion order, 0 being the oldest retained.
func (r *ring) at(i int) Event {
	return r.buf[(r.head+i)%len(r.buf)]
}

func (r *ring) len() int {
	return r.size
}
