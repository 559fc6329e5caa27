package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"github.com/t2bot/stream-uploader/common/config"
	"github.com/t2bot/stream-uploader/common/logging"
	"github.com/t2bot/stream-uploader/common/rcontext"
	"github.com/t2bot/stream-uploader/common/version"
	"github.com/t2bot/stream-uploader/datastores"
	"github.com/t2bot/stream-uploader/metrics"
	"github.com/t2bot/stream-uploader/util/ids"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", config.Path, "The path to the configuration")
	datastoreId := flag.String("datastore", "", "The datastore ID to upload to. Optional when only one datastore is enabled")
	filePath := flag.String("file", "-", "The file to upload, or - for stdin")
	contentType := flag.String("contentType", "", "The content type to store the upload with. Detected from the stream when empty")
	removeLocation := flag.String("remove", "", "Deletes a previously uploaded location from the datastore instead of uploading")
	versionFlag := flag.Bool("version", false, "Prints the version and exits")
	flag.Parse()

	if *versionFlag {
		version.Print(false)
		return 0
	}

	// Override config path with config for Docker users
	configEnv := os.Getenv("UPLOADER_CONFIG")
	if configEnv != "" {
		configPath = &configEnv
	}

	config.Path = *configPath
	conf, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err)
		return 1
	}

	if conf.Sentry.Enabled {
		err = sentry.Init(sentry.ClientOptions{
			Dsn:         conf.Sentry.Dsn,
			Environment: conf.Sentry.Environment,
			Debug:       conf.Sentry.Debug,
			Release:     version.Release(),
		})
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Error setting up sentry: %s\n", err)
			return 1
		}
	}
	defer sentry.Flush(2 * time.Second)
	defer sentry.Recover()

	if err = logging.Setup(conf.General); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error setting up logging: %s\n", err)
		return 1
	}
	version.Print(true)

	metrics.Init(conf.Metrics)
	defer metrics.Stop()

	var ds config.DatastoreConfig
	if *datastoreId != "" {
		ds, err = datastores.Get(conf, *datastoreId)
	} else {
		ds, err = datastores.Default(conf)
	}
	if err != nil {
		logrus.Error(err)
		return 1
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *removeLocation != "" {
		ctx := rcontext.New(sigCtx, conf.Upload, logrus.WithField("location", *removeLocation))
		if err = removeUpload(ctx, ds, *removeLocation); err != nil {
			sentry.CaptureException(err)
			ctx.Log.Error("Error removing upload: ", err)
			return 1
		}
		return 0
	}

	var source io.ReadCloser = os.Stdin
	if *filePath != "-" {
		source, err = os.Open(*filePath)
		if err != nil {
			logrus.Error(err)
			return 1
		}
	}

	uploadId := ids.NewUploadId()
	ctx := rcontext.New(sigCtx, conf.Upload, logrus.WithFields(logrus.Fields{
		"uploadId": uploadId,
		"source":   *filePath,
	}))

	ctx.Log.Infof("Uploading into datastore %s", ds.Id)
	res, err := datastores.UploadStream(ctx, ds, source, *contentType)
	if err != nil {
		sentry.CaptureException(err)
		if datastores.IsPermanent(err) {
			ctx.Log.Error("Upload cannot be recovered and must be restarted from the beginning: ", err)
		} else {
			ctx.Log.Error("Upload failed: ", err)
		}
		return 1
	}

	fmt.Printf("location: %s\nsize: %s (%d bytes)\nsha256: %s\n", res.Location, humanize.IBytes(uint64(res.SizeBytes)), res.SizeBytes, res.Sha256Hash)
	return 0
}

func removeUpload(ctx rcontext.RequestContext, ds config.DatastoreConfig, location string) error {
	ctx.Log.Infof("Removing %s from datastore %s", location, ds.Id)
	if err := datastores.Remove(ctx, ds, location); err != nil {
		return err
	}
	ctx.Log.Info("Removed")
	return nil
}
