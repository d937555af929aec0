package audio

// Framer slices an arbitrary stream of byte chunks into frames of a fixed
// size, carrying the remainder over to the next Write. Not safe for
// concurrent use.
type Framer struct {
	size    int
	pending []byte
}

// NewFramer returns a Framer producing frames of size bytes. size must be
// positive.
func NewFramer(size int) *Framer {
	if size <= 0 {
		panic("audio: frame size must be positive")
	}
	return &Framer{size: size}
}

// Write appends chunk and returns every complete frame now available. The
// returned frames are owned by the caller.
func (f *Framer) Write(chunk []byte) [][]byte {
	f.pending = append(f.pending, chunk...)
	var frames [][]byte
	for len(f.pending) >= f.size {
		frame := make([]byte, f.size)
		copy(frame, f.pending[:f.size])
		frames = append(frames, frame)
		f.pending = f.pending[f.size:]
	}
	if len(f.pending) == 0 {
		f.pending = nil
	}
	return frames
}

// Buffered returns the number of bytes waiting for a complete frame.
func (f *Framer) Buffered() int { return len(f.pending) }

// Reset discards any buffered partial frame.
func (f *Framer) Reset() { f.pending = nil }
