package datastores

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"math/rand"
	"os"
	"path"
	"testing"
	"testing/iotest"

	"github.com/rubyist/circuitbreaker"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/t2bot/stream-uploader/common"
	"github.com/t2bot/stream-uploader/common/config"
	"github.com/t2bot/stream-uploader/common/rcontext"
	"github.com/t2bot/stream-uploader/util/readers"
)

var errFlaky = errors.New("flaky sink")

type memorySink struct {
	parts     map[int][]byte
	failures  map[int]int
	putCalls  int
	begun     bool
	aborted   bool
	completed bool
	object    []byte
}

func newMemorySink() *memorySink {
	return &memorySink{parts: make(map[int][]byte), failures: make(map[int]int)}
}

func (s *memorySink) Begin(ctx context.Context) error {
	s.begun = true
	return nil
}

func (s *memorySink) PutPart(ctx context.Context, partNumber int, data io.Reader, size int64) error {
	s.putCalls++
	if s.failures[partNumber] != 0 {
		// Consume part of the body first, like a connection dropping mid-transfer
		_, _ = io.CopyN(io.Discard, data, size/2)
		if s.failures[partNumber] > 0 {
			s.failures[partNumber]--
		}
		return errFlaky
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if int64(len(b)) != size {
		return errors.New("size mismatch")
	}
	s.parts[partNumber] = b
	return nil
}

func (s *memorySink) Complete(ctx context.Context) (string, error) {
	s.completed = true
	for i := 1; i <= len(s.parts); i++ {
		s.object = append(s.object, s.parts[i]...)
	}
	return "memory://object", nil
}

func (s *memorySink) Abort(ctx context.Context) error {
	s.aborted = true
	return nil
}

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

// flakySink fails the first attempt of chosen parts before handing off.
type flakySink struct {
	PartSink
	failOnce map[int]bool
}

func (s *flakySink) PutPart(ctx context.Context, partNumber int, data io.Reader, size int64) error {
	if s.failOnce[partNumber] {
		s.failOnce[partNumber] = false
		_, _ = io.CopyN(io.Discard, data, 1)
		return errFlaky
	}
	return s.PartSink.PutPart(ctx, partNumber, data, size)
}

type UploadTestSuite struct {
	suite.Suite
	conf config.UploadConfig
}

func (s *UploadTestSuite) SetupTest() {
	ResetBreakers()
	s.conf = config.UploadConfig{
		PartSizeBytes:    1024,
		BufferSizeBytes:  1024,
		MaxPartAttempts:  4,
		InitialBackoffMs: 1,
		MaxBackoffMs:     2,
		BreakerThreshold: 100,
	}
}

func (s *UploadTestSuite) ctx() rcontext.RequestContext {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return rcontext.New(context.Background(), s.conf, logrus.NewEntry(log))
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(b)
	return b
}

func sha256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func (s *UploadTestSuite) TestUploadNoFailures() {
	t := s.T()
	data := randomBytes(10000)
	sink := newMemorySink()
	src := &closeTracker{Reader: bytes.NewReader(data)}

	res, err := UploadToSink(s.ctx(), "mem", sink, src)
	require.NoError(t, err)
	assert.Equal(t, "memory://object", res.Location)
	assert.EqualValues(t, len(data), res.SizeBytes)
	assert.Equal(t, 10, res.Parts)
	assert.Equal(t, 10, res.Attempts)
	assert.EqualValues(t, 0, res.ReplayedBytes)
	assert.Equal(t, sha256Hex(data), res.Sha256Hash)
	assert.Equal(t, data, sink.object)
	assert.True(t, src.closed)
	assert.False(t, sink.aborted)
}

func (s *UploadTestSuite) TestUploadExactPartBoundary() {
	t := s.T()
	data := randomBytes(4096)
	sink := newMemorySink()

	res, err := UploadToSink(s.ctx(), "mem", sink, io.NopCloser(bytes.NewReader(data)))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Parts)
	assert.Equal(t, data, sink.object)
}

func (s *UploadTestSuite) TestUploadEmptyStream() {
	t := s.T()
	sink := newMemorySink()

	res, err := UploadToSink(s.ctx(), "mem", sink, io.NopCloser(bytes.NewReader(nil)))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Parts)
	assert.EqualValues(t, 0, res.SizeBytes)
	assert.Equal(t, sha256Hex(nil), res.Sha256Hash)
	assert.Empty(t, sink.object)
}

func (s *UploadTestSuite) TestUploadReplaysFailedParts() {
	t := s.T()
	data := randomBytes(5000)
	sink := newMemorySink()
	sink.failures[3] = 2
	sink.failures[5] = 1

	// One byte at a time, so nothing about the source is seekable or chunk aligned
	src := io.NopCloser(iotest.OneByteReader(bytes.NewReader(data)))
	res, err := UploadToSink(s.ctx(), "mem", sink, src)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Parts)
	assert.Equal(t, 8, res.Attempts)
	assert.EqualValues(t, 2*1024+(5000-4*1024), res.ReplayedBytes)
	assert.Equal(t, data, sink.object)
	assert.Equal(t, sha256Hex(data), res.Sha256Hash)
}

func (s *UploadTestSuite) TestUploadGivesUp() {
	t := s.T()
	sink := newMemorySink()
	sink.failures[2] = -1
	src := &closeTracker{Reader: bytes.NewReader(randomBytes(3000))}

	_, err := UploadToSink(s.ctx(), "mem", sink, src)
	assert.ErrorIs(t, err, errFlaky)
	assert.True(t, sink.aborted)
	assert.True(t, src.closed)
	assert.Equal(t, 1+4, sink.putCalls)
}

func (s *UploadTestSuite) TestUploadBreakerOpens() {
	t := s.T()
	s.conf.BreakerThreshold = 2
	s.conf.MaxPartAttempts = 5
	sink := newMemorySink()
	sink.failures[1] = -1

	_, err := UploadToSink(s.ctx(), "breaker", sink, io.NopCloser(bytes.NewReader(randomBytes(100))))
	assert.ErrorIs(t, err, circuit.ErrBreakerOpen)
	assert.Less(t, sink.putCalls, 5)
	assert.True(t, sink.aborted)
}

func (s *UploadTestSuite) TestUploadTooLarge() {
	t := s.T()
	s.conf.MaxSizeBytes = 2000
	sink := newMemorySink()

	_, err := UploadToSink(s.ctx(), "mem", sink, io.NopCloser(bytes.NewReader(randomBytes(3000))))
	assert.ErrorIs(t, err, common.ErrStreamTooLarge)
	assert.True(t, IsPermanent(err))
	assert.True(t, sink.aborted)
}

func (s *UploadTestSuite) TestUploadSourceError() {
	t := s.T()
	boom := errors.New("pipe broke")
	sink := newMemorySink()
	src := io.NopCloser(io.MultiReader(bytes.NewReader(randomBytes(1500)), iotest.ErrReader(boom)))

	_, err := UploadToSink(s.ctx(), "mem", sink, src)
	assert.ErrorIs(t, err, boom)
	assert.True(t, sink.aborted)
	assert.Len(t, sink.parts, 1)
}

func (s *UploadTestSuite) TestUploadBufferSmallerThanPart() {
	t := s.T()
	s.conf.BufferSizeBytes = 16
	data := randomBytes(3000)
	sink := newMemorySink()
	sink.failures[2] = 1

	res, err := UploadToSink(s.ctx(), "mem", sink, io.NopCloser(bytes.NewReader(data)))
	require.NoError(t, err)
	assert.Equal(t, data, sink.object)
	assert.EqualValues(t, 1024, res.ReplayedBytes)
}

func (s *UploadTestSuite) TestFileDatastoreRoundTrip() {
	t := s.T()
	dir := t.TempDir()
	ds := config.DatastoreConfig{Id: "local", Type: "file", Enabled: true, Options: map[string]string{"path": dir}}
	data := randomBytes(7777)

	res, err := UploadStream(s.ctx(), ds, io.NopCloser(bytes.NewReader(data)), "application/octet-stream")
	require.NoError(t, err)
	assert.Equal(t, 8, res.Parts)

	stored, err := os.ReadFile(path.Join(dir, res.Location))
	require.NoError(t, err)
	assert.Equal(t, res.Sha256Hash, sha256Hex(stored))
	assert.Equal(t, sha256Hex(data), res.Sha256Hash)

	require.NoError(t, Remove(s.ctx(), ds, res.Location))
	assert.NoFileExists(t, path.Join(dir, res.Location))
	assert.NoError(t, Remove(s.ctx(), ds, res.Location))
}

func (s *UploadTestSuite) TestFileDatastoreResendsParts() {
	t := s.T()
	dir := t.TempDir()
	sink := &flakySink{
		PartSink: newFileSink(dir, s.conf.PartSizeBytes),
		failOnce: map[int]bool{1: true, 3: true},
	}
	data := randomBytes(3500)

	res, err := UploadToSink(s.ctx(), "local", sink, io.NopCloser(bytes.NewReader(data)))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Parts)
	assert.Equal(t, 6, res.Attempts)

	b, err := os.ReadFile(path.Join(dir, res.Location))
	require.NoError(t, err)
	assert.Equal(t, data, b)
}

func (s *UploadTestSuite) TestFileDatastoreAbortRemovesTemp() {
	t := s.T()
	dir := t.TempDir()
	sink := &flakySink{PartSink: newFileSink(dir, s.conf.PartSizeBytes), failOnce: map[int]bool{}}
	s.conf.MaxSizeBytes = 100

	_, err := UploadToSink(s.ctx(), "local", sink, io.NopCloser(bytes.NewReader(randomBytes(500))))
	assert.ErrorIs(t, err, common.ErrStreamTooLarge)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func (s *UploadTestSuite) TestOpenSinkErrors() {
	t := s.T()
	_, err := OpenSink(s.ctx(), config.DatastoreConfig{Id: "x", Type: "tape", Enabled: true}, "")
	assert.ErrorIs(t, err, common.ErrUnknownDatastoreType)

	_, err = OpenSink(s.ctx(), config.DatastoreConfig{Id: "x", Type: "file", Enabled: false}, "")
	assert.ErrorIs(t, err, common.ErrDatastoreDisabled)

	remaining := bytes.NewReader(randomBytes(5000))
	src := &closeTracker{Reader: remaining}
	_, err = UploadStream(s.ctx(), config.DatastoreConfig{Id: "x", Type: "tape", Enabled: true}, src, "")
	assert.Error(t, err)
	assert.True(t, src.closed)
	assert.Equal(t, 0, remaining.Len(), "the source should be drained before closing")
}

func (s *UploadTestSuite) TestUploadDetectsContentType() {
	t := s.T()
	dir := t.TempDir()
	ds := config.DatastoreConfig{Id: "local", Type: "file", Enabled: true, Options: map[string]string{"path": dir}}
	data := bytes.Repeat([]byte("plain words on a line\n"), 300)

	res, err := UploadStream(s.ctx(), ds, io.NopCloser(bytes.NewReader(data)), "")
	require.NoError(t, err)
	assert.EqualValues(t, len(data), res.SizeBytes)
	assert.Equal(t, sha256Hex(data), res.Sha256Hash)

	b, err := os.ReadFile(path.Join(dir, res.Location))
	require.NoError(t, err)
	assert.Equal(t, data, b)
}

func TestSniffContentType(t *testing.T) {
	png := append([]byte("\x89PNG\r\n\x1a\n"), randomBytes(20)...)
	src := &closeTracker{Reader: bytes.NewReader(png)}
	mime, stream, err := sniffContentType(src)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)

	b, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, png, b)

	require.NoError(t, stream.Close())
	assert.True(t, src.closed)

	mime, _, err = sniffContentType(io.NopCloser(bytes.NewReader([]byte("hello"))))
	require.NoError(t, err)
	assert.Contains(t, mime, "text/plain")

	_, _, err = sniffContentType(io.NopCloser(iotest.ErrReader(errFlaky)))
	assert.ErrorIs(t, err, errFlaky)
}

func TestCompletePartsRejectsSizeMismatch(t *testing.T) {
	sink := newMemorySink()
	result := &UploadResult{SizeBytes: 10}

	err := completeParts(context.Background(), sink, result, 12)
	assert.ErrorContains(t, err, "size mismatch")
	assert.False(t, sink.completed)
	assert.Empty(t, result.Location)

	require.NoError(t, completeParts(context.Background(), sink, result, 10))
	assert.True(t, sink.completed)
	assert.Equal(t, "memory://object", result.Location)
}

func TestUploadTestSuite(t *testing.T) {
	suite.Run(t, new(UploadTestSuite))
}

func TestLocate(t *testing.T) {
	conf := &config.UploaderConfig{DataStores: []config.DatastoreConfig{
		{Id: "a", Type: "file", Enabled: false},
		{Id: "b", Type: "s3", Enabled: true},
	}}

	ds, err := Get(conf, "a")
	require.NoError(t, err)
	assert.Equal(t, "file", ds.Type)

	_, err = Get(conf, "zzz")
	assert.ErrorIs(t, err, common.ErrDatastoreNotFound)

	ds, err = Default(conf)
	require.NoError(t, err)
	assert.Equal(t, "b", ds.Id)

	conf.DataStores[0].Enabled = true
	_, err = Default(conf)
	assert.ErrorIs(t, err, common.ErrDatastoreNotFound)
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(&readers.WindowExceededError{}))
	assert.False(t, IsPermanent(errFlaky))
}
