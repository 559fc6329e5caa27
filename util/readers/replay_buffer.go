package readers

import (
	"io"
	"os"
)

// ReplayBuffer gives limited seek support over a forward-only stream. It keeps
// the most recent maxBufferSize bytes read from the stream so a caller can
// rewind into that window (for example, to resend a failed upload chunk) and
// read the same bytes again.
//
// Absolute offsets are measured from the start of the underlying stream. The
// buffer is not safe for concurrent use.
type ReplayBuffer struct {
	src    io.Reader
	closer io.Closer

	chunks        [][]byte
	maxBufferSize int64
	bufferStart   int64
	bufferEnd     int64
	position      int64
	closed        bool
}

// NewReplayBuffer wraps r, taking ownership of it. Closing the buffer closes r
// if it implements io.Closer.
func NewReplayBuffer(r io.Reader, maxBufferSize int64) (*ReplayBuffer, error) {
	if maxBufferSize <= 0 {
		return nil, ErrInvalidBufferSize
	}
	return &ReplayBuffer{
		src:           r,
		closer:        MakeCloser(r),
		chunks:        make([][]byte, 0),
		maxBufferSize: maxBufferSize,
	}, nil
}

func (b *ReplayBuffer) Tell() int64 {
	return b.position
}

// Window returns the absolute [start, end) range currently held in memory.
func (b *ReplayBuffer) Window() (int64, int64) {
	return b.bufferStart, b.bufferEnd
}

func (b *ReplayBuffer) MaxBufferSize() int64 {
	return b.maxBufferSize
}

// Seekable always reports true, though seeks are limited to the window.
func (b *ReplayBuffer) Seekable() bool {
	return true
}

// Mode proxies the mode of the wrapped stream, if it exposes one. Files report
// their permission bits.
func (b *ReplayBuffer) Mode() (string, bool) {
	switch src := b.src.(type) {
	case interface{ Mode() string }:
		return src.Mode(), true
	case *os.File:
		info, err := src.Stat()
		if err != nil {
			return "", false
		}
		return info.Mode().String(), true
	}
	return "", false
}

func (b *ReplayBuffer) Close() error {
	b.closed = true
	b.chunks = nil
	return b.closer.Close()
}

// readFromBuffer copies buffered bytes at the current position into p and
// returns how many were served. Without a prior backward seek the position
// sits at bufferEnd and nothing is served.
func (b *ReplayBuffer) readFromBuffer(p []byte) int {
	served := 0
	if b.position >= b.bufferEnd {
		return served
	}
	chunkStart := b.bufferStart
	for _, chunk := range b.chunks {
		if served == len(p) {
			break
		}
		chunkEnd := chunkStart + int64(len(chunk))
		if b.position < chunkEnd {
			n := copy(p[served:], chunk[b.position-chunkStart:])
			served += n
			b.position += int64(n)
		}
		chunkStart = chunkEnd
	}
	return served
}

// store appends an owned chunk of new stream data and evicts from the front
// until the window fits maxBufferSize again. The oldest chunk is trimmed rather
// than dropped when only part of it falls out of the window.
func (b *ReplayBuffer) store(data []byte) {
	if len(data) == 0 {
		return
	}
	b.chunks = append(b.chunks, data)
	b.bufferEnd += int64(len(data))
	for b.bufferEnd-b.bufferStart > b.maxBufferSize {
		oldest := b.chunks[0]
		refill := b.maxBufferSize - (b.bufferEnd - b.bufferStart - int64(len(oldest)))
		if refill > 0 {
			tail := make([]byte, refill)
			copy(tail, oldest[int64(len(oldest))-refill:])
			b.chunks[0] = tail
			b.bufferStart = b.bufferEnd - b.maxBufferSize
			continue
		}
		b.chunks[0] = nil
		b.chunks = b.chunks[1:]
		b.bufferStart += int64(len(oldest))
	}
}

// Read implements io.Reader. Replayed bytes are served first and the rest of p
// is filled by a single read of the underlying stream. Errors from the stream,
// io.EOF included, are returned as-is.
func (b *ReplayBuffer) Read(p []byte) (int, error) {
	if b.closed {
		return 0, ErrReplayBufferClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	served := b.readFromBuffer(p)
	if served == len(p) {
		return served, nil
	}

	n, err := b.src.Read(p[served:])
	if n > 0 {
		b.position += int64(n)
		owned := make([]byte, n)
		copy(owned, p[served:served+n])
		b.store(owned)
	}
	return served + n, err
}

// ReadN returns up to size bytes, reading the whole remaining stream when size
// is negative. The result is short only when the stream ended. io.EOF is
// returned only when nothing could be delivered because the stream is
// exhausted; other stream errors are returned along with the bytes read so far.
func (b *ReplayBuffer) ReadN(size int64) ([]byte, error) {
	if b.closed {
		return nil, ErrReplayBufferClosed
	}

	readAll := size < 0
	wanted := size
	if readAll {
		wanted = b.maxBufferSize
	}

	var buffered []byte
	if available := b.bufferEnd - b.position; available > 0 && wanted > 0 {
		if available < wanted {
			wanted = available
		}
		buffered = make([]byte, wanted)
		buffered = buffered[:b.readFromBuffer(buffered)]
	}

	var newData []byte
	var err error
	eof := false
	if readAll {
		newData, err = io.ReadAll(b.src)
		eof = err == nil
	} else if remaining := size - int64(len(buffered)); remaining > 0 {
		newData = make([]byte, remaining)
		var n int
		n, err = io.ReadFull(b.src, newData)
		newData = newData[:n]
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			eof = true
			err = nil
		}
	}

	b.position += int64(len(newData))
	b.store(newData)

	result := append(buffered, newData...)
	if err != nil {
		return result, err
	}
	if eof && len(result) == 0 {
		return result, io.EOF
	}
	return result, nil
}

// Seek implements io.Seeker within the replay window.
//
// io.SeekStart moves to an absolute offset inside [start, end] of the window.
// io.SeekEnd takes a non-positive offset no further back than maxBufferSize;
// it drains the stream to find the true end before positioning. Any other
// whence fails without touching state.
func (b *ReplayBuffer) Seek(offset int64, whence int) (int64, error) {
	if b.closed {
		return b.position, ErrReplayBufferClosed
	}

	switch whence {
	case io.SeekStart:
		if offset < b.bufferStart || offset > b.bufferEnd {
			return b.position, &WindowExceededError{Offset: offset, Start: b.bufferStart, End: b.bufferEnd}
		}
		b.position = offset
	case io.SeekEnd:
		if offset > 0 || -offset > b.maxBufferSize {
			return b.position, &EndOffsetError{Offset: offset, MaxBufferSize: b.maxBufferSize}
		}
		if err := b.drain(); err != nil {
			return b.position, err
		}
		target := b.position + offset
		if target < b.bufferStart {
			return b.position, &WindowExceededError{Offset: target, Start: b.bufferStart, End: b.bufferEnd}
		}
		b.position = target
	default:
		return b.position, &InvalidWhenceError{Whence: whence, Offset: offset}
	}
	return b.position, nil
}

// drain reads through the normal buffering path until the stream is
// exhausted, leaving position at the true end of the stream and the window
// holding its tail.
func (b *ReplayBuffer) drain() error {
	for {
		if _, err := b.ReadN(b.maxBufferSize); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
