package config

import "time"

type Config struct {
	DBPath       string
	PersonasFile string
	Media        MediaConfig
	Upload       UploadConfig
	Storage      StorageConfig
	Bot          BotConfig
	Oracles      []OracleConfig
}

type MediaConfig struct {
	Backend       string // sqlite, minio or memory
	Path          string
	InitTimeout   time.Duration
	MaxAge        time.Duration
	SweepSchedule string
}

type UploadConfig struct {
	MaxTotalBytes int64
	MaxFileBytes  int64
	MaxFiles      int
	ChunkBytes    int
	Batching      bool
}

type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type BotConfig struct {
	Provider  string // console, telegram or discord
	Token     string
	RateLimit float64 // messages per second per chat
	Burst     int
}

// OracleConfig binds a persona to a real provider.
type OracleConfig struct {
	PersonaID string
	Provider  string
	APIKey    string
	Model     string
	BaseURL   string
}
