package audio

import "sync"

// BytesPerSecond is the byte rate of intercepted call audio: PCM s16le,
// 16kHz, mono.
const BytesPerSecond = SampleRate * 2

// Tap holds the most recent stretch of a call's intercepted audio in a
// fixed-size circular buffer. It is safe for concurrent use.
type Tap struct {
	callID string

	mu       sync.Mutex
	buf      []byte
	writePos int
	capacity int
	written  int64
}

func newTap(callID string, seconds int) *Tap {
	capacity := seconds * BytesPerSecond
	return &Tap{
		callID:   callID,
		buf:      make([]byte, capacity),
		capacity: capacity,
	}
}

func (t *Tap) CallID() string { return t.callID }

// Write appends PCM, overwriting the oldest audio when the buffer is full.
func (t *Tap) Write(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.written += int64(len(data))
	if len(data) > t.capacity {
		data = data[len(data)-t.capacity:]
	}
	for len(data) > 0 {
		n := copy(t.buf[t.writePos:], data)
		data = data[n:]
		t.writePos = (t.writePos + n) % t.capacity
	}
}

// Snapshot returns a copy of up to the last seconds of audio.
func (t *Tap) Snapshot(seconds int) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	requested := seconds * BytesPerSecond
	if held := t.held(); requested > held {
		requested = held
	}
	if requested <= 0 {
		return nil
	}

	out := make([]byte, requested)
	start := (t.writePos - requested + t.capacity) % t.capacity
	if start+requested <= t.capacity {
		copy(out, t.buf[start:start+requested])
	} else {
		first := t.capacity - start
		copy(out[:first], t.buf[start:])
		copy(out[first:], t.buf[:requested-first])
	}
	return out
}

// Buffered returns how many seconds of audio the tap currently holds.
func (t *Tap) Buffered() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.held()) / float64(BytesPerSecond)
}

// BytesWritten is the total amount of audio ever written to the tap.
func (t *Tap) BytesWritten() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written
}

func (t *Tap) held() int {
	if t.written > int64(t.capacity) {
		return t.capacity
	}
	return int(t.written)
}
