package config

import (
	"fmt"
	"os"
	"path"
	"sort"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

var Path = "stream-uploader.yaml"

func reloadConfig() (*UploaderConfig, error) {
	c := NewDefaultConfig()

	// Write a default config if the one given doesn't exist
	_, err := os.Stat(Path)
	exists := err == nil || !os.IsNotExist(err)
	if !exists {
		fmt.Println("Generating new configuration...")
		configBytes, err := yaml.Marshal(c)
		if err != nil {
			return nil, err
		}

		if err = os.WriteFile(Path, configBytes, 0644); err != nil {
			return nil, err
		}
	}

	// Get new info about the possible directory after creating
	info, err := os.Stat(Path)
	if err != nil {
		return nil, err
	}

	pathsOrdered := make([]string, 0)
	if info.IsDir() {
		logrus.Info("Config is a directory - loading all files over top of each other")

		files, err := os.ReadDir(Path)
		if err != nil {
			return nil, err
		}

		for _, f := range files {
			pathsOrdered = append(pathsOrdered, path.Join(Path, f.Name()))
		}

		sort.Strings(pathsOrdered)
	} else {
		pathsOrdered = append(pathsOrdered, Path)
	}

	for _, p := range pathsOrdered {
		logrus.Info("Loading config file: ", p)
		buffer, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		if err = yaml.Unmarshal(buffer, &c); err != nil {
			return nil, err
		}
	}

	if err = c.validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

func (c *UploaderConfig) validate() error {
	if c.Upload.PartSizeBytes <= 0 {
		return fmt.Errorf("upload.partSizeBytes must be positive, got %d", c.Upload.PartSizeBytes)
	}
	if c.Upload.MaxPartAttempts <= 0 {
		c.Upload.MaxPartAttempts = 1
	}
	seen := make(map[string]bool)
	for _, ds := range c.DataStores {
		if ds.Id == "" {
			return fmt.Errorf("datastore of type %s is missing an id", ds.Type)
		}
		if seen[ds.Id] {
			return fmt.Errorf("duplicate datastore id %s", ds.Id)
		}
		seen[ds.Id] = true
	}
	return nil
}

// Load reads the configuration at Path, generating a default file first when
// nothing exists there.
func Load() (*UploaderConfig, error) {
	return reloadConfig()
}

func (c *UploaderConfig) GetDatastore(id string) (DatastoreConfig, bool) {
	for _, ds := range c.DataStores {
		if ds.Id == id {
			return ds, true
		}
	}
	return DatastoreConfig{}, false
}
