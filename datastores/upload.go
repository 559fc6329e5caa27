package datastores

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rubyist/circuitbreaker"
	"github.com/sirupsen/logrus"
	"github.com/t2bot/stream-uploader/common"
	"github.com/t2bot/stream-uploader/common/config"
	"github.com/t2bot/stream-uploader/common/rcontext"
	"github.com/t2bot/stream-uploader/metrics"
	"github.com/t2bot/stream-uploader/util/readers"
	"github.com/t2bot/stream-uploader/util/stream_util"
)

var breakers = &sync.Map{}

func ResetBreakers() {
	breakers = &sync.Map{}
}

func getBreaker(dsId string, threshold int) *circuit.Breaker {
	if cbRaw, ok := breakers.Load(dsId); ok {
		return cbRaw.(*circuit.Breaker)
	}
	backoffAt := int64(threshold)
	if backoffAt <= 0 {
		backoffAt = 10 // default to 10 for those who don't have this set
	}
	cb, _ := breakers.LoadOrStore(dsId, circuit.NewConsecutiveBreaker(backoffAt))
	return cb.(*circuit.Breaker)
}

type UploadResult struct {
	Location      string
	SizeBytes     int64
	Sha256Hash    string
	Parts         int
	Attempts      int
	ReplayedBytes int64
}

type ownedStream struct {
	io.Reader
	io.Closer
}

// UploadStream pushes data into the given datastore as a chunked upload. data
// is closed when the upload finishes, successfully or not. An empty
// contentType is detected from the start of the stream.
func UploadStream(ctx rcontext.RequestContext, ds config.DatastoreConfig, data io.ReadCloser, contentType string) (*UploadResult, error) {
	if contentType == "" {
		var err error
		contentType, data, err = sniffContentType(data)
		if err != nil {
			stream_util.DumpAndCloseStream(data)
			return nil, errors.Wrap(err, "error detecting content type")
		}
		ctx.Log.Debug("Detected content type ", contentType)
	}

	sink, err := OpenSink(ctx, ds, contentType)
	if err != nil {
		stream_util.DumpAndCloseStream(data)
		return nil, err
	}
	return UploadToSink(ctx, ds.Id, sink, data)
}

// sniffContentType peeks at the head of data and returns a stream that still
// starts at the first byte.
func sniffContentType(data io.ReadCloser) (string, io.ReadCloser, error) {
	head := make([]byte, 3072)
	n, err := io.ReadFull(data, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", data, err
	}
	head = head[:n]
	mime := mimetype.Detect(head)
	return mime.String(), ownedStream{Reader: io.MultiReader(bytes.NewReader(head), data), Closer: data}, nil
}

// UploadToSink reads data part by part through a replay buffer sized to hold
// at least one full part. A failed part is rewound and resent from the buffer,
// so data itself never needs to be seekable.
func UploadToSink(ctx rcontext.RequestContext, dsId string, sink PartSink, data io.ReadCloser) (*UploadResult, error) {
	started := time.Now()
	partSize := ctx.Config.PartSizeBytes
	if partSize <= 0 {
		stream_util.DumpAndCloseStream(data)
		return nil, errors.New("part size must be positive")
	}
	bufferSize := ctx.Config.ReplayBufferSize()

	var source io.ReadCloser = data
	if ctx.Config.MaxSizeBytes > 0 {
		source = readers.LimitReaderWithOverrunError(data, ctx.Config.MaxSizeBytes)
	}
	counter := readers.NewCountingReader(source)
	hasher := sha256.New()
	rb, err := readers.NewReplayBuffer(ownedStream{Reader: io.TeeReader(counter, hasher), Closer: source}, bufferSize)
	if err != nil {
		stream_util.DumpAndCloseStream(data)
		return nil, err
	}
	defer rb.Close()

	ctx = ctx.LogWithFields(logrus.Fields{
		"datastoreId": dsId,
		"partSize":    humanize.IBytes(uint64(partSize)),
		"bufferSize":  humanize.IBytes(uint64(bufferSize)),
	})

	result, err := uploadParts(ctx, dsId, sink, rb, partSize)
	if err == nil {
		err = completeParts(ctx, sink, result, counter.Count())
	}
	metrics.SourceBytes.Add(float64(counter.Count()))
	if err != nil {
		metrics.Uploads.With(prometheus.Labels{"datastore": dsId, "result": "failed"}).Inc()
		// The upload context may already be dead, but the abort should still be attempted
		abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if abortErr := sink.Abort(abortCtx); abortErr != nil {
			ctx.Log.Warn("Error aborting upload: ", abortErr)
		}
		return nil, err
	}

	result.Sha256Hash = hex.EncodeToString(hasher.Sum(nil))

	metrics.Uploads.With(prometheus.Labels{"datastore": dsId, "result": "success"}).Inc()
	metrics.UploadDuration.With(prometheus.Labels{"datastore": dsId}).Observe(time.Since(started).Seconds())
	ctx.Log.Infof("Uploaded %s in %d parts (%d attempts, %s replayed)", humanize.IBytes(uint64(result.SizeBytes)), result.Parts, result.Attempts, humanize.IBytes(uint64(result.ReplayedBytes)))
	return result, nil
}

func uploadParts(ctx rcontext.RequestContext, dsId string, sink PartSink, rb *readers.ReplayBuffer, partSize int64) (*UploadResult, error) {
	result := &UploadResult{}
	cb := getBreaker(dsId, ctx.Config.BreakerThreshold)

	if err := sink.Begin(ctx.Context); err != nil {
		return nil, errors.Wrap(err, "error starting upload")
	}

	for partNumber := 1; ; partNumber++ {
		partStart := rb.Tell()
		partLen := int64(-1)
		attempt := 0
		log := ctx.Log.WithField("partNumber", partNumber)

		op := func() error {
			attempt++
			result.Attempts++
			if attempt > 1 {
				if _, err := rb.Seek(partStart, io.SeekStart); err != nil {
					metrics.ReplaySeeks.With(prometheus.Labels{"result": "failed"}).Inc()
					return backoff.Permanent(errors.Wrapf(err, "unable to rewind to part %d", partNumber))
				}
				metrics.ReplaySeeks.With(prometheus.Labels{"result": "success"}).Inc()
			}

			b, err := rb.ReadN(partSize)
			if err != nil && err != io.EOF {
				return backoff.Permanent(errors.Wrap(err, "error reading upload source"))
			}
			partLen = int64(len(b))
			if partLen == 0 && partNumber > 1 {
				// Stream ended exactly on a part boundary
				return nil
			}
			if attempt > 1 {
				result.ReplayedBytes += partLen
				metrics.ReplayedBytes.Add(float64(partLen))
			}

			partCtx := ctx.Context
			if ctx.Config.PartTimeoutMs > 0 {
				var cancel context.CancelFunc
				partCtx, cancel = context.WithTimeout(ctx.Context, time.Duration(ctx.Config.PartTimeoutMs)*time.Millisecond)
				defer cancel()
			}

			err = cb.CallContext(partCtx, func() error {
				return sink.PutPart(partCtx, partNumber, bytes.NewReader(b), partLen)
			}, 0)
			if err != nil {
				metrics.PartAttempts.With(prometheus.Labels{"datastore": dsId, "result": "failed"}).Inc()
				if ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}
				return err
			}
			metrics.PartAttempts.With(prometheus.Labels{"datastore": dsId, "result": "success"}).Inc()
			return nil
		}

		notify := func(err error, wait time.Duration) {
			log.Warnf("Error uploading part (attempt %d), retrying in %s: %s", attempt, wait, err)
		}
		if err := backoff.RetryNotify(op, newPartBackoff(ctx), notify); err != nil {
			return nil, errors.Wrapf(err, "error uploading part %d", partNumber)
		}

		if partLen == 0 && partNumber > 1 {
			break
		}
		result.Parts++
		log.Debugf("Uploaded part of %s", humanize.IBytes(uint64(partLen)))
		if partLen < partSize {
			break
		}
	}

	result.SizeBytes = rb.Tell()
	return result, nil
}

// completeParts finalizes the upload only when every byte pulled from the
// source was delivered to the sink. On a mismatch the sink is left open for
// the caller to abort.
func completeParts(ctx context.Context, sink PartSink, result *UploadResult, sourceBytes int64) error {
	if result.SizeBytes != sourceBytes {
		return errors.Errorf("upload size mismatch: read %d bytes from source but delivered %d", sourceBytes, result.SizeBytes)
	}
	location, err := sink.Complete(ctx)
	if err != nil {
		return errors.Wrap(err, "error completing upload")
	}
	result.Location = location
	return nil
}

func newPartBackoff(ctx rcontext.RequestContext) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if ctx.Config.InitialBackoffMs > 0 {
		exp.InitialInterval = time.Duration(ctx.Config.InitialBackoffMs) * time.Millisecond
	}
	if ctx.Config.MaxBackoffMs > 0 {
		exp.MaxInterval = time.Duration(ctx.Config.MaxBackoffMs) * time.Millisecond
	}
	exp.MaxElapsedTime = 0 // bounded by attempts instead
	retries := ctx.Config.MaxPartAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx.Context)
}

// IsPermanent reports whether err can never succeed on retry of the whole upload.
func IsPermanent(err error) bool {
	return errors.Is(err, readers.ErrWindowExceeded) || errors.Is(err, common.ErrStreamTooLarge)
}
