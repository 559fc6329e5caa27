package config

type GeneralConfig struct {
	LogDirectory string `yaml:"logDirectory"`
	LogColors    bool   `yaml:"logColors"`
	JsonLogs     bool   `yaml:"jsonLogs"`
	LogLevel     string `yaml:"logLevel"`
}

type UploadConfig struct {
	PartSizeBytes    int64 `yaml:"partSizeBytes"`
	BufferSizeBytes  int64 `yaml:"bufferSizeBytes"`
	MaxSizeBytes     int64 `yaml:"maxBytes"`
	MaxPartAttempts  int   `yaml:"maxPartAttempts"`
	InitialBackoffMs int   `yaml:"initialBackoffMs"`
	MaxBackoffMs     int   `yaml:"maxBackoffMs"`
	BreakerThreshold int   `yaml:"breakerThreshold"`
	PartTimeoutMs    int   `yaml:"partTimeoutMs"`
}

type DatastoreConfig struct {
	Id      string            `yaml:"id"`
	Type    string            `yaml:"type"`
	Enabled bool              `yaml:"enabled"`
	Options map[string]string `yaml:"opts,flow"`
}

type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BindAddress string `yaml:"bindAddress"`
	Port        int    `yaml:"port"`
}

type SentryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Dsn         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
	Debug       bool   `yaml:"debug"`
}

type UploaderConfig struct {
	General    GeneralConfig     `yaml:"general"`
	Upload     UploadConfig      `yaml:"upload"`
	DataStores []DatastoreConfig `yaml:"datastores,flow"`
	Metrics    MetricsConfig     `yaml:"metrics"`
	Sentry     SentryConfig      `yaml:"sentry"`
}

// ReplayBufferSize is the replay window the uploader needs: never smaller than
// one part, so a whole part can always be resent.
func (c UploadConfig) ReplayBufferSize() int64 {
	if c.BufferSizeBytes < c.PartSizeBytes {
		return c.PartSizeBytes
	}
	return c.BufferSizeBytes
}
