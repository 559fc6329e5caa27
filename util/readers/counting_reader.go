package readers

import "io"

// CountingReader counts the bytes pulled through it.
type CountingReader struct {
	r     io.Reader
	count int64
}

func NewCountingReader(r io.Reader) *CountingReader {
	return &CountingReader{r: r}
}

func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.count += int64(n)
	return n, err
}

func (r *CountingReader) Count() int64 {
	return r.count
}
