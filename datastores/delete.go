package datastores

import (
	"os"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/t2bot/stream-uploader/common"
	"github.com/t2bot/stream-uploader/common/config"
	"github.com/t2bot/stream-uploader/common/rcontext"
	"github.com/t2bot/stream-uploader/metrics"
)

func Remove(ctx rcontext.RequestContext, ds config.DatastoreConfig, location string) error {
	var err error
	if ds.Type == "s3" {
		var s3c *s3
		s3c, err = getS3(ds)
		if err != nil {
			return err
		}

		metrics.S3Operations.With(prometheus.Labels{"operation": "RemoveObject"}).Inc()
		err = s3c.client.RemoveObject(ctx.Context, s3c.bucket, location, minio.RemoveObjectOptions{})
	} else if ds.Type == "file" {
		basePath := ds.Options["path"]
		err = os.Remove(path.Join(basePath, location))
		if err != nil && os.IsNotExist(err) {
			return nil // not existing means it was deleted, as far as we care
		}
	} else {
		return errors.Wrapf(common.ErrUnknownDatastoreType, "datastore %s has type %q", ds.Id, ds.Type)
	}

	return err
}
