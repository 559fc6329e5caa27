package config

func NewDefaultConfig() UploaderConfig {
	return UploaderConfig{
		General: GeneralConfig{
			LogDirectory: "logs",
			LogColors:    false,
			JsonLogs:     false,
			LogLevel:     "info",
		},
		Upload: UploadConfig{
			PartSizeBytes:    8388608, // 8mb
			BufferSizeBytes:  8388608, // 8mb
			MaxSizeBytes:     0,       // unlimited
			MaxPartAttempts:  5,
			InitialBackoffMs: 500,
			MaxBackoffMs:     30000,
			BreakerThreshold: 10,
			PartTimeoutMs:    120000,
		},
		DataStores: []DatastoreConfig{},
		Metrics: MetricsConfig{
			Enabled:     false,
			BindAddress: "127.0.0.1",
			Port:        9000,
		},
		Sentry: SentryConfig{
			Enabled: false,
		},
	}
}
