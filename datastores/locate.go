package datastores

import (
	"github.com/pkg/errors"
	"github.com/t2bot/stream-uploader/common"
	"github.com/t2bot/stream-uploader/common/config"
)

func Get(conf *config.UploaderConfig, dsId string) (config.DatastoreConfig, error) {
	if ds, ok := conf.GetDatastore(dsId); ok {
		return ds, nil
	}
	return config.DatastoreConfig{}, errors.Wrap(common.ErrDatastoreNotFound, dsId)
}

// Default picks the only enabled datastore, for configs that have exactly one.
func Default(conf *config.UploaderConfig) (config.DatastoreConfig, error) {
	var found []config.DatastoreConfig
	for _, ds := range conf.DataStores {
		if ds.Enabled {
			found = append(found, ds)
		}
	}
	if len(found) != 1 {
		return config.DatastoreConfig{}, errors.Wrapf(common.ErrDatastoreNotFound, "%d enabled datastores configured, pick one with -datastore", len(found))
	}
	return found[0], nil
}
