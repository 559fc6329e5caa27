package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var ReplaySeeks = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "uploader_replay_seeks_total",
	Help: "Rewinds into the replay buffer before resending a part.",
}, []string{"result"})
var ReplayedBytes = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "uploader_replayed_bytes_total",
	Help: "Bytes resent from the replay buffer after a failed part.",
})
var SourceBytes = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "uploader_source_bytes_total",
	Help: "Bytes pulled from upload sources.",
})
var PartAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "uploader_part_attempts_total",
	Help: "Part upload attempts by datastore.",
}, []string{"datastore", "result"})
var Uploads = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "uploader_uploads_total",
	Help: "Finished uploads by datastore.",
}, []string{"datastore", "result"})
var UploadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name: "uploader_upload_duration_seconds",
	Help: "Time taken by successful uploads.",
}, []string{"datastore"})
var S3Operations = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "uploader_s3_operations_total",
	Help: "S3 API calls made by the uploader.",
}, []string{"operation"})

func init() {
	prometheus.MustRegister(ReplaySeeks)
	prometheus.MustRegister(ReplayedBytes)
	prometheus.MustRegister(SourceBytes)
	prometheus.MustRegister(PartAttempts)
	prometheus.MustRegister(Uploads)
	prometheus.MustRegister(UploadDuration)
	prometheus.MustRegister(S3Operations)
}
