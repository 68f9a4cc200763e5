package channel

import "time"

// RecentMessage is a raw message kept for the message log.
type RecentMessage struct {
	Topic      string    `json:"topic"`
	Payload    string    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// ringBuffer is a fixed-capacity FIFO of the latest messages.
// Not safe for concurrent use; the session lock guards it.
type ringBuffer struct {
	buf      []RecentMessage
	capacity int
	head     int // next write position
	count    int
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{
		buf:      make([]RecentMessage, capacity),
		capacity: capacity,
	}
}

func (r *ringBuffer) push(msg RecentMessage) {
	if r.count == r.capacity {
		// Overwrite oldest: head is already pointing at it
		r.buf[r.head] = msg
		r.head = (r.head + 1) % r.capacity
		return
	}
	r.buf[r.head] = msg
	r.head = (r.head + 1) % r.capacity
	r.count++
}

// snapshot returns the buffered messages oldest first without draining.
func (r *ringBuffer) snapshot() []RecentMessage {
	if r.count == 0 {
		return nil
	}

	result := make([]RecentMessage, r.count)
	// Oldest item is at (head - count) mod capacity
	start := (r.head - r.count + r.capacity) % r.capacity
	for i := 0; i < r.count; i++ {
		result[i] = r.buf[(start+i)%r.capacity]
	}
	return result
}

func (r *ringBuffer) clear() {
	r.count = 0
	r.head = 0
}

func (r *ringBuffer) len() int {
	return r.count
}
