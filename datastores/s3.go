package datastores

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/t2bot/stream-uploader/common/config"
	"github.com/t2bot/stream-uploader/common/rcontext"
	"github.com/t2bot/stream-uploader/metrics"
	"github.com/t2bot/stream-uploader/util/ids"
)

var s3clients = &sync.Map{}

type s3 struct {
	client       *minio.Core
	storageClass string
	bucket       string
	prefixLength int
}

func ResetS3Clients() {
	s3clients = &sync.Map{}
}

func getS3(ds config.DatastoreConfig) (*s3, error) {
	if val, ok := s3clients.Load(ds.Id); ok {
		return val.(*s3), nil
	}

	endpoint := ds.Options["endpoint"]
	bucket := ds.Options["bucketName"]
	accessKeyId := ds.Options["accessKeyId"]
	accessSecret := ds.Options["accessSecret"]
	region := ds.Options["region"]
	storageClass, hasStorageClass := ds.Options["storageClass"]
	useSslStr, hasSsl := ds.Options["ssl"]
	prefixLengthStr, hasPrefixLength := ds.Options["prefixLength"]

	if !hasStorageClass {
		storageClass = "STANDARD"
	}

	useSsl := true
	if hasSsl && useSslStr != "" {
		useSsl, _ = strconv.ParseBool(useSslStr)
	}

	prefixLength := 0
	if hasPrefixLength && prefixLengthStr != "" {
		prefixLength, _ = strconv.Atoi(prefixLengthStr)
		if prefixLength < 0 {
			prefixLength = 0
		}
		if prefixLength > 16 {
			logrus.Warnf("Prefix length %d is greater than 16 for datastore %s - using 16", prefixLength, ds.Id)
			prefixLength = 16
		}
	}

	client, err := minio.NewCore(endpoint, &minio.Options{
		Region: region,
		Secure: useSsl,
		Creds:  credentials.NewStaticV4(accessKeyId, accessSecret, ""),
	})
	if err != nil {
		return nil, err
	}

	s3c := &s3{
		client:       client,
		storageClass: storageClass,
		bucket:       bucket,
		prefixLength: prefixLength,
	}
	s3clients.Store(ds.Id, s3c)
	return s3c, nil
}

func (s *s3) objectName(id string) string {
	if s.prefixLength > 0 {
		return path.Join(id[:s.prefixLength], id)
	}
	return id
}

func (s *s3) exists(ctx context.Context, objectName string) (bool, error) {
	metrics.S3Operations.With(prometheus.Labels{"operation": "StatObject"}).Inc()
	_, err := s.client.StatObject(ctx, s.bucket, objectName, minio.StatObjectOptions{})
	if err != nil {
		var merr minio.ErrorResponse
		if errors.As(err, &merr) {
			if merr.Code == "NoSuchKey" || merr.StatusCode == http.StatusNotFound {
				return false, nil
			}
		}
		return false, err
	}
	return true, nil
}

// s3Sink streams parts into one S3 multipart upload.
type s3Sink struct {
	s3c         *s3
	contentType string
	objectName  string
	uploadId    string
	parts       map[int]minio.CompletePart
}

func newS3Sink(s3c *s3, contentType string) *s3Sink {
	return &s3Sink{
		s3c:         s3c,
		contentType: contentType,
		parts:       make(map[int]minio.CompletePart),
	}
}

func (s *s3Sink) Begin(ctx context.Context) error {
	// Ensure unique ID
	exists := true
	attempts := 0
	for exists {
		id, err := ids.NewUniqueId()
		if err != nil {
			return err
		}

		attempts++
		if attempts > 10 {
			return errors.New("failed to generate suitable object name for S3 store")
		}
		s.objectName = s.s3c.objectName(id)
		exists, err = s.s3c.exists(ctx, s.objectName)
		if err != nil {
			return err
		}
	}

	metrics.S3Operations.With(prometheus.Labels{"operation": "NewMultipartUpload"}).Inc()
	uploadId, err := s.s3c.client.NewMultipartUpload(ctx, s.s3c.bucket, s.objectName, minio.PutObjectOptions{
		StorageClass: s.s3c.storageClass,
		ContentType:  s.contentType,
	})
	if err != nil {
		return err
	}
	s.uploadId = uploadId
	return nil
}

func (s *s3Sink) PutPart(ctx context.Context, partNumber int, data io.Reader, size int64) error {
	metrics.S3Operations.With(prometheus.Labels{"operation": "PutObjectPart"}).Inc()
	part, err := s.s3c.client.PutObjectPart(ctx, s.s3c.bucket, s.objectName, s.uploadId, partNumber, data, size, minio.PutObjectPartOptions{})
	if err != nil {
		return err
	}
	s.parts[partNumber] = minio.CompletePart{PartNumber: part.PartNumber, ETag: part.ETag}
	return nil
}

func (s *s3Sink) Complete(ctx context.Context) (string, error) {
	parts := make([]minio.CompletePart, 0, len(s.parts))
	for i := 1; i <= len(s.parts); i++ {
		p, ok := s.parts[i]
		if !ok {
			return "", errors.New("missing part " + strconv.Itoa(i) + " in multipart upload")
		}
		parts = append(parts, p)
	}

	metrics.S3Operations.With(prometheus.Labels{"operation": "CompleteMultipartUpload"}).Inc()
	_, err := s.s3c.client.CompleteMultipartUpload(ctx, s.s3c.bucket, s.objectName, s.uploadId, parts, minio.PutObjectOptions{
		StorageClass: s.s3c.storageClass,
		ContentType:  s.contentType,
	})
	if err != nil {
		return "", err
	}
	rcontext.GetLogger(ctx).Debugf("Completed multipart upload %s with %d parts", s.uploadId, len(parts))
	return s.objectName, nil
}

func (s *s3Sink) Abort(ctx context.Context) error {
	if s.uploadId == "" {
		return nil
	}
	metrics.S3Operations.With(prometheus.Labels{"operation": "AbortMultipartUpload"}).Inc()
	rcontext.GetLogger(ctx).Debug("Aborting multipart upload ", s.uploadId)
	return s.s3c.client.AbortMultipartUpload(ctx, s.s3c.bucket, s.objectName, s.uploadId)
}
