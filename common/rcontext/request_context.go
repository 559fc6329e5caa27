package rcontext

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/t2bot/stream-uploader/common/config"
)

type contextKey string

const loggerKey contextKey = "su.logger"

func New(ctx context.Context, conf config.UploadConfig, log *logrus.Entry) RequestContext {
	return RequestContext{
		Context: ctx,
		Log:     log,
		Config:  conf,
	}.populate()
}

type RequestContext struct {
	context.Context

	// Also stored on the context object itself
	Log    *logrus.Entry
	Config config.UploadConfig
}

func (c RequestContext) populate() RequestContext {
	c.Context = context.WithValue(c.Context, loggerKey, c.Log)
	return c
}

func (c RequestContext) ReplaceLogger(log *logrus.Entry) RequestContext {
	return RequestContext{
		Context: c.Context,
		Log:     log,
		Config:  c.Config,
	}.populate()
}

func (c RequestContext) LogWithFields(fields logrus.Fields) RequestContext {
	return c.ReplaceLogger(c.Log.WithFields(fields))
}

func (c RequestContext) WithContext(ctx context.Context) RequestContext {
	return RequestContext{
		Context: ctx,
		Log:     c.Log,
		Config:  c.Config,
	}.populate()
}

// GetLogger returns the logger stored on ctx, or the standard logger.
func GetLogger(ctx context.Context) *logrus.Entry {
	if log, ok := ctx.Value(loggerKey).(*logrus.Entry); ok {
		return log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
