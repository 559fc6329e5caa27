package stream_util

import (
	"fmt"
	"io"
)

// ForceDiscard reads and drops nBytes from r, or everything when nBytes is
// negative.
func ForceDiscard(r io.Reader, nBytes int64) error {
	if nBytes == 0 {
		return nil // weird call, but ok
	}

	if nBytes < 0 {
		_, err := io.Copy(io.Discard, r)
		return err
	}

	discarded, err := io.CopyN(io.Discard, r, nBytes)
	if err == io.EOF {
		return fmt.Errorf("under-discarded from stream by %d bytes", nBytes-discarded)
	}
	return err
}

// DumpAndCloseStream drains whatever is left of r before closing it, so a
// producer piping into r is not cut off mid-write.
func DumpAndCloseStream(r io.ReadCloser) {
	if r == nil {
		return // nothing to dump or close
	}
	_ = ForceDiscard(r, -1)
	_ = r.Close()
}
