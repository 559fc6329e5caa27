package common

import (
	"errors"
)

var ErrStreamTooLarge = errors.New("stream too large")
var ErrDatastoreNotFound = errors.New("datastore not found")
var ErrDatastoreDisabled = errors.New("datastore disabled")
var ErrUnknownDatastoreType = errors.New("unknown datastore type")
