package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
)

const (
	gib = 1 << 30
	mib = 1 << 20

	maxUploadCap      = 1 * gib
	fallbackUploadCap = 512 * mib
)

// personaProviders maps each builtin persona to the provider that can back it.
var personaProviders = []struct {
	persona  string
	provider string
}{
	{"chatgpt", "openai"},
	{"claude", "claude"},
	{"deepseek", "deepseek"},
	{"mistral", "mistral"},
}

func Load() (*Config, error) {
	dbPath := os.Getenv("MULTIAI_DB")
	if dbPath == "" {
		dbPath = "multiai.db"
	}

	mediaConfig, err := loadMediaConfig()
	if err != nil {
		return nil, err
	}

	uploadConfig, err := loadUploadConfig(detectMemory)
	if err != nil {
		return nil, err
	}

	storageConfig := loadStorageConfig()
	if mediaConfig.Backend == "minio" && !storageConfig.Enabled {
		return nil, fmt.Errorf("MEDIA_CACHE_BACKEND=minio requires MINIO_ACCESS_KEY and MINIO_SECRET_KEY")
	}

	botConfig, err := loadBotConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		DBPath:       dbPath,
		PersonasFile: os.Getenv("PERSONAS_FILE"),
		Media:        mediaConfig,
		Upload:       uploadConfig,
		Storage:      storageConfig,
		Bot:          botConfig,
		Oracles:      loadOracleConfigs(),
	}, nil
}

func loadMediaConfig() (MediaConfig, error) {
	backend := os.Getenv("MEDIA_CACHE_BACKEND")
	if backend == "" {
		backend = "sqlite"
	}
	switch backend {
	case "sqlite", "minio", "memory":
	default:
		return MediaConfig{}, fmt.Errorf("unknown MEDIA_CACHE_BACKEND: %s", backend)
	}

	path := os.Getenv("MEDIA_CACHE_PATH")
	if path == "" {
		path = "media.db"
	}

	initTimeout, err := durationEnv("MEDIA_CACHE_INIT_TIMEOUT", 3*time.Second)
	if err != nil {
		return MediaConfig{}, err
	}

	maxAge, err := durationEnv("MEDIA_CACHE_MAX_AGE", 7*24*time.Hour)
	if err != nil {
		return MediaConfig{}, err
	}

	schedule := os.Getenv("MEDIA_CACHE_SWEEP_SCHEDULE")
	if schedule == "" {
		schedule = "0 3 * * *"
	}

	return MediaConfig{
		Backend:       backend,
		Path:          path,
		InitTimeout:   initTimeout,
		MaxAge:        maxAge,
		SweepSchedule: schedule,
	}, nil
}

func loadUploadConfig(memory func() (uint64, error)) (UploadConfig, error) {
	total, err := int64Env("UPLOAD_MAX_TOTAL_BYTES", 0)
	if err != nil {
		return UploadConfig{}, err
	}
	if total <= 0 {
		total = DefaultMaxTotalBytes(memory)
	}

	perFile, err := int64Env("UPLOAD_MAX_FILE_BYTES", total)
	if err != nil {
		return UploadConfig{}, err
	}

	maxFiles, err := int64Env("UPLOAD_MAX_FILES", 10)
	if err != nil {
		return UploadConfig{}, err
	}

	chunk, err := int64Env("UPLOAD_CHUNK_BYTES", 5*mib)
	if err != nil {
		return UploadConfig{}, err
	}

	return UploadConfig{
		MaxTotalBytes: total,
		MaxFileBytes:  perFile,
		MaxFiles:      int(maxFiles),
		ChunkBytes:    int(chunk),
		Batching:      os.Getenv("UPLOAD_BATCHING") != "false",
	}, nil
}

// DefaultMaxTotalBytes scales the upload cap with installed memory: 256 MiB
// per GiB, at most 1 GiB, 512 MiB when memory cannot be read.
func DefaultMaxTotalBytes(memory func() (uint64, error)) int64 {
	total, err := memory()
	if err != nil || total == 0 {
		return fallbackUploadCap
	}

	scaled := float64(total) / gib * 256 * mib
	if scaled > maxUploadCap {
		return maxUploadCap
	}
	return int64(scaled)
}

func detectMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Total, nil
}

func loadStorageConfig() StorageConfig {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "minio:9000"
	}

	bucket := os.Getenv("MINIO_BUCKET")
	if bucket == "" {
		bucket = "multiai-media"
	}

	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")

	return StorageConfig{
		Enabled:   accessKey != "" && secretKey != "",
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		Bucket:    bucket,
		UseSSL:    os.Getenv("MINIO_USE_SSL") == "true",
	}
}

func loadBotConfig() (BotConfig, error) {
	provider := os.Getenv("BOT_PROVIDER")
	if provider == "" {
		provider = "console"
	}

	var token string
	switch provider {
	case "console":
	case "telegram":
		token = os.Getenv("TELEGRAM_TOKEN")
		if token == "" {
			return BotConfig{}, fmt.Errorf("TELEGRAM_TOKEN not set")
		}
	case "discord":
		token = os.Getenv("DISCORD_TOKEN")
		if token == "" {
			return BotConfig{}, fmt.Errorf("DISCORD_TOKEN not set")
		}
	default:
		return BotConfig{}, fmt.Errorf("unknown BOT_PROVIDER: %s", provider)
	}

	rateLimit := 1.0
	if v, err := strconv.ParseFloat(os.Getenv("BOT_RATE_LIMIT"), 64); err == nil && v > 0 {
		rateLimit = v
	}

	burst := 3
	if v, err := strconv.Atoi(os.Getenv("BOT_RATE_BURST")); err == nil && v > 0 {
		burst = v
	}

	return BotConfig{
		Provider:  provider,
		Token:     token,
		RateLimit: rateLimit,
		Burst:     burst,
	}, nil
}

// loadOracleConfigs returns a binding for every persona whose provider key
// is set. ORACLE_MODE=mock ignores all keys.
func loadOracleConfigs() []OracleConfig {
	if os.Getenv("ORACLE_MODE") == "mock" {
		return nil
	}

	var configs []OracleConfig
	for _, pp := range personaProviders {
		key := os.Getenv(EnvKeyForProvider(pp.provider))
		if key == "" {
			continue
		}
		configs = append(configs, OracleConfig{
			PersonaID: pp.persona,
			Provider:  pp.provider,
			APIKey:    key,
			Model:     os.Getenv(strings.ToUpper(pp.persona) + "_MODEL"),
			BaseURL:   os.Getenv(strings.ToUpper(pp.provider) + "_BASE_URL"),
		})
	}
	return configs
}

// EnvKeyForProvider returns the env var holding a provider's API key
func EnvKeyForProvider(provider string) string {
	switch provider {
	case "claude":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	default:
		return strings.ToUpper(provider) + "_API_KEY"
	}
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}

func int64Env(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}
