package datastores

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/t2bot/stream-uploader/common/rcontext"
	"github.com/t2bot/stream-uploader/util/ids"
)

// fileSink writes parts at their fixed offsets into a temporary file beside
// the final location, so a resent part simply overwrites the failed attempt.
type fileSink struct {
	basePath string
	partSize int64
	file     *os.File
	size     int64
}

func newFileSink(basePath string, partSize int64) *fileSink {
	return &fileSink{
		basePath: basePath,
		partSize: partSize,
	}
}

func (s *fileSink) Begin(ctx context.Context) error {
	if s.basePath == "" {
		return errors.New("file datastore has no path configured")
	}
	if err := os.MkdirAll(s.basePath, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(s.basePath, ".upload-*")
	if err != nil {
		return err
	}
	s.file = f
	return nil
}

func (s *fileSink) PutPart(ctx context.Context, partNumber int, data io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	offset := int64(partNumber-1) * s.partSize
	written, err := io.Copy(io.NewOffsetWriter(s.file, offset), data)
	if err != nil {
		return err
	}
	if written != size {
		return fmt.Errorf("part %d size mismatch: expected %d got %d bytes", partNumber, size, written)
	}
	if end := offset + written; end > s.size {
		s.size = end
	}
	return nil
}

func (s *fileSink) Complete(ctx context.Context) (string, error) {
	if err := s.file.Truncate(s.size); err != nil {
		return "", err
	}
	if err := s.file.Sync(); err != nil {
		return "", err
	}
	if err := s.file.Close(); err != nil {
		return "", err
	}

	// Ensure unique ID
	var objectName string
	var targetFile string
	exists := true
	attempts := 0
	for exists {
		id, err := ids.NewUniqueId()
		if err != nil {
			return "", err
		}

		attempts++
		if attempts > 10 {
			return "", errors.New("failed to generate suitable file name for persistence")
		}

		objectName = path.Join(id[0:2], id[2:4], id[4:])
		targetFile = path.Join(s.basePath, objectName)

		_, err = os.Stat(targetFile)
		if err != nil && !os.IsNotExist(err) {
			return "", err
		}
		exists = err == nil
	}

	if err := os.MkdirAll(path.Dir(targetFile), 0755); err != nil {
		return "", err
	}
	if err := os.Rename(s.file.Name(), targetFile); err != nil {
		return "", err
	}
	rcontext.GetLogger(ctx).Debugf("Moved %s to %s", s.file.Name(), targetFile)
	return objectName, nil
}

func (s *fileSink) Abort(ctx context.Context) error {
	if s.file == nil {
		return nil
	}
	_ = s.file.Close()
	rcontext.GetLogger(ctx).Debug("Removing partial upload ", s.file.Name())
	if err := os.Remove(s.file.Name()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
