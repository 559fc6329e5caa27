package datastores

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/t2bot/stream-uploader/common"
	"github.com/t2bot/stream-uploader/common/config"
	"github.com/t2bot/stream-uploader/common/rcontext"
)

// PartSink receives an upload as a sequence of numbered parts. PutPart may be
// called again with the same part number after a failure and must then replace
// whatever the failed attempt stored.
type PartSink interface {
	Begin(ctx context.Context) error
	PutPart(ctx context.Context, partNumber int, data io.Reader, size int64) error
	Complete(ctx context.Context) (string, error)
	Abort(ctx context.Context) error
}

func OpenSink(ctx rcontext.RequestContext, ds config.DatastoreConfig, contentType string) (PartSink, error) {
	if !ds.Enabled {
		return nil, errors.Wrapf(common.ErrDatastoreDisabled, "datastore %s", ds.Id)
	}
	switch ds.Type {
	case "s3":
		s3c, err := getS3(ds)
		if err != nil {
			return nil, err
		}
		return newS3Sink(s3c, contentType), nil
	case "file":
		return newFileSink(ds.Options["path"], ctx.Config.PartSizeBytes), nil
	default:
		return nil, errors.Wrapf(common.ErrUnknownDatastoreType, "datastore %s has type %q", ds.Id, ds.Type)
	}
}
