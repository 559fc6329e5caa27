package main

import (
	"context"
	"io"
	"os"
	"path"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/t2bot/stream-uploader/common"
	"github.com/t2bot/stream-uploader/common/config"
	"github.com/t2bot/stream-uploader/common/rcontext"
)

func quietContext() rcontext.RequestContext {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return rcontext.New(context.Background(), config.UploadConfig{}, logrus.NewEntry(log))
}

func TestRemoveUpload(t *testing.T) {
	dir := t.TempDir()
	location := path.Join("ab", "cd", "efgh")
	require.NoError(t, os.MkdirAll(path.Join(dir, "ab", "cd"), 0755))
	require.NoError(t, os.WriteFile(path.Join(dir, location), []byte("uploaded"), 0644))
	ds := config.DatastoreConfig{Id: "local", Type: "file", Enabled: true, Options: map[string]string{"path": dir}}

	require.NoError(t, removeUpload(quietContext(), ds, location))
	assert.NoFileExists(t, path.Join(dir, location))

	// Removing again is not an error
	assert.NoError(t, removeUpload(quietContext(), ds, location))
}

func TestRemoveUploadUnknownType(t *testing.T) {
	ds := config.DatastoreConfig{Id: "tape", Type: "tape", Enabled: true}
	assert.ErrorIs(t, removeUpload(quietContext(), ds, "anything"), common.ErrUnknownDatastoreType)
}
