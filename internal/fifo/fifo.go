// Package fifo provides a circular byte buffer used to stage a journal
// bundle's body between a store fetch and the copy a caller takes out of
// it (spec §4.3 step 2, §5's single-slot body cache).
package fifo

// Fifo is a circular buffer. Unlike a general producer/consumer queue it
// is driven entirely by one writer (a store fetch) followed by one or
// more readers (copy-out calls) between resets; callers needing to peek
// without consuming should read into a buffer sized by GetOccupied and
// then Reset, rather than mutate readPos out from under a concurrent
// reader.
type Fifo struct {
	buffer   []byte
	writePos int
	readPos  int
}

// NewFifo allocates a Fifo backed by size bytes. One slot always stays
// free to tell a full buffer from an empty one, so it holds at most
// size-1 unread bytes.
func NewFifo(size int) *Fifo {
	return &Fifo{buffer: make([]byte, size)}
}

// Reset empties the buffer, discarding any unread bytes.
func (f *Fifo) Reset() {
	f.readPos = 0
	f.writePos = 0
}

// GetSpace reports how many more bytes can be written before the buffer
// is full.
func (f *Fifo) GetSpace() int {
	sizeLeft := f.readPos - f.writePos - 1
	if sizeLeft < 0 {
		sizeLeft += len(f.buffer)
	}
	return sizeLeft
}

// GetOccupied reports how many unread bytes are buffered.
func (f *Fifo) GetOccupied() int {
	sizeOccupied := f.writePos - f.readPos
	if sizeOccupied < 0 {
		sizeOccupied += len(f.buffer)
	}
	return sizeOccupied
}

// Write copies as much of buffer into the fifo as fits, returning the
// number of bytes written.
func (f *Fifo) Write(buffer []byte) int {
	if buffer == nil {
		return 0
	}
	writeCounter := 0
	for _, element := range buffer {
		writePosNext := f.writePos + 1
		if writePosNext == f.readPos || (writePosNext == len(f.buffer) && f.readPos == 0) {
			break
		}
		f.buffer[f.writePos] = element
		writeCounter++
		if writePosNext == len(f.buffer) {
			f.writePos = 0
		} else {
			f.writePos++
		}
	}
	return writeCounter
}

// Read copies buffered bytes into buffer, returning the number read.
func (f *Fifo) Read(buffer []byte) int {
	readCounter := 0
	if buffer == nil {
		return 0
	}
	for index := range buffer {
		if f.readPos == f.writePos {
			break
		}
		buffer[index] = f.buffer[f.readPos]
		readCounter++
		f.readPos++
		if f.readPos == len(f.buffer) {
			f.readPos = 0
		}
	}
	return readCounter
}
