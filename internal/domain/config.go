package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Engine settings
	Engine EngineConfig `json:"engine"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// EngineConfig holds scoring pipeline settings.
type EngineConfig struct {
	// BatchConcurrency bounds parallel scoring within one batch.
	BatchConcurrency int `json:"batchConcurrency"`

	// VelocityWindow is the lookback window for card velocity checks.
	VelocityWindow time.Duration `json:"velocityWindow"`

	// HistoryLimit caps the per-card history supplied to the scorers.
	HistoryLimit int `json:"historyLimit"`

	// TrainOnStart fits the model from synthetic data at startup when
	// no trained model is present.
	TrainOnStart bool `json:"trainOnStart"`

	// SyntheticSamples is the synthetic corpus size for startup training.
	SyntheticSamples int `json:"syntheticSamples"`
}

// DefaultConfig returns a configuration suitable for local use:
// SQLite repository, in-memory cache, channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:       "sqlite",
			SQLitePath:   "./kestrel.db",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Engine: EngineConfig{
			BatchConcurrency: 8,
			VelocityWindow:   5 * time.Minute,
			HistoryLimit:     30,
			TrainOnStart:     true,
			SyntheticSamples: 1000,
		},
	}
}
