package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
)

type Config struct {
	App       App           `yaml:"app"`
	API       API           `yaml:"api"`
	Scheduler Scheduler     `yaml:"scheduler"`
	Media     Media         `yaml:"media"`
	OpenAI    OpenAI        `yaml:"openai"`
	Server    Server        `yaml:"server"`
	Queue     *RabbitMQ     `yaml:"rabbitmq"`
	Storage   *minio.Client `yaml:"storage"`
}

type App struct {
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
}

type API struct {
	BaseURL           string        `yaml:"base_url"`
	ServerAPIKey      string        `yaml:"server_api_key"`
	Timeout           time.Duration `yaml:"timeout"`
	RetryMax          int           `yaml:"retry_max"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

type Scheduler struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	StuckJobThreshold time.Duration `yaml:"stuck_job_threshold"`
	MaxJobAttempts    int           `yaml:"max_job_attempts"`
	Workers           int           `yaml:"workers"`
	QueueCapacity     int           `yaml:"queue_capacity"`
	WorkerPause       time.Duration `yaml:"worker_pause"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

type Media struct {
	MaxChunkSizeBytes int64  `yaml:"max_chunk_size_bytes"`
	TempDir           string `yaml:"temp_dir"`
	FFmpegPath        string `yaml:"ffmpeg_path"`
	FFprobePath       string `yaml:"ffprobe_path"`
}

type OpenAI struct {
	APIKey      string `yaml:"api_key"`
	Model       string `yaml:"model"`
	Concurrency int    `yaml:"concurrency"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
}

type RabbitMQ struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
}

// Load reads an optional .env file from path and then the process environment.
// Environment variables always win over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(filepath.Join(path, ".env"))
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	v.AutomaticEnv()

	serverAPIKey, err := required(v, "server_api_key")
	if err != nil {
		return nil, err
	}
	openAIKey, err := required(v, "openai_api_key")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: App{
			Environment: str(v, "app_environment"),
			LogLevel:    str(v, "log_level"),
		},
		API: API{
			BaseURL:           strings.TrimRight(str(v, "api_base_url"), "/"),
			ServerAPIKey:      serverAPIKey,
			Timeout:           seconds(v, "api_request_timeout_seconds"),
			RetryMax:          v.GetInt("api_retry_max"),
			RequestsPerSecond: v.GetFloat64("api_requests_per_second"),
		},
		Scheduler: Scheduler{
			PollInterval:      seconds(v, "poll_interval_seconds"),
			StuckJobThreshold: seconds(v, "stuck_job_threshold_seconds"),
			MaxJobAttempts:    v.GetInt("max_job_attempts"),
			Workers:           v.GetInt("max_num_workers"),
			QueueCapacity:     v.GetInt("job_queue_capacity"),
			WorkerPause:       seconds(v, "worker_pause_seconds"),
			HeartbeatInterval: seconds(v, "heartbeat_interval_seconds"),
		},
		Media: Media{
			MaxChunkSizeBytes: v.GetInt64("max_chunk_size_bytes"),
			TempDir:           str(v, "temp_dir"),
			FFmpegPath:        str(v, "ffmpeg_path"),
			FFprobePath:       str(v, "ffprobe_path"),
		},
		OpenAI: OpenAI{
			APIKey:      openAIKey,
			Model:       str(v, "openai_model"),
			Concurrency: v.GetInt("transcribe_concurrency"),
		},
		Server: Server{
			HttpPort: str(v, "http_port"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if host := str(v, "rabbitmq_host"); host != "" {
		cfg.Queue = &RabbitMQ{
			Host:         host,
			Port:         v.GetInt("rabbitmq_port"),
			User:         str(v, "rabbitmq_user"),
			Pass:         str(v, "rabbitmq_pass"),
			ExchangeName: str(v, "rabbitmq_exchange"),
			Kind:         str(v, "rabbitmq_kind"),
		}
	}

	if endpoint := str(v, "minio_url"); endpoint != "" {
		minioClient, err := minio.New(endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(str(v, "minio_access_id"), str(v, "minio_secret_access_key"), ""),
			Secure: v.GetBool("minio_secure"),
		})
		if err != nil {
			return nil, fmt.Errorf("create minio client: %w", err)
		}
		cfg.Storage = minioClient
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_environment", "production")
	v.SetDefault("api_base_url", "http://localhost:3000/api")
	v.SetDefault("api_request_timeout_seconds", 30)
	v.SetDefault("api_retry_max", 2)
	v.SetDefault("api_requests_per_second", 10)
	v.SetDefault("poll_interval_seconds", 3)
	v.SetDefault("stuck_job_threshold_seconds", 30)
	v.SetDefault("max_job_attempts", 3)
	v.SetDefault("max_num_workers", 2)
	v.SetDefault("job_queue_capacity", 100)
	v.SetDefault("worker_pause_seconds", 3)
	v.SetDefault("heartbeat_interval_seconds", 10)
	v.SetDefault("max_chunk_size_bytes", 24*1024*1024)
	v.SetDefault("temp_dir", "temp")
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("ffprobe_path", "ffprobe")
	v.SetDefault("openai_model", "whisper-1")
	v.SetDefault("transcribe_concurrency", 4)
	v.SetDefault("http_port", "8080")
	v.SetDefault("rabbitmq_port", 5672)
	v.SetDefault("rabbitmq_kind", "topic")
	v.SetDefault("rabbitmq_exchange", "asset_processing_exchange")
}

func (c *Config) validate() error {
	positive := map[string]float64{
		"POLL_INTERVAL_SECONDS":       c.Scheduler.PollInterval.Seconds(),
		"STUCK_JOB_THRESHOLD_SECONDS": c.Scheduler.StuckJobThreshold.Seconds(),
		"MAX_JOB_ATTEMPTS":            float64(c.Scheduler.MaxJobAttempts),
		"MAX_NUM_WORKERS":             float64(c.Scheduler.Workers),
		"JOB_QUEUE_CAPACITY":          float64(c.Scheduler.QueueCapacity),
		"HEARTBEAT_INTERVAL_SECONDS":  c.Scheduler.HeartbeatInterval.Seconds(),
		"MAX_CHUNK_SIZE_BYTES":        float64(c.Media.MaxChunkSizeBytes),
		"API_REQUESTS_PER_SECOND":     c.API.RequestsPerSecond,
		"TRANSCRIBE_CONCURRENCY":      float64(c.OpenAI.Concurrency),
	}
	for key, value := range positive {
		if value <= 0 {
			return fmt.Errorf("environment variable %s must be positive", key)
		}
	}
	if c.API.RetryMax < 0 {
		return fmt.Errorf("environment variable API_RETRY_MAX must not be negative")
	}
	return nil
}

func required(v *viper.Viper, key string) (string, error) {
	value := str(v, key)
	if value == "" {
		return "", fmt.Errorf("environment variable %s is not set", strings.ToUpper(key))
	}
	return value, nil
}

// str trims whitespace and surrounding quotes left over from .env files.
func str(v *viper.Viper, key string) string {
	return strings.Trim(strings.TrimSpace(v.GetString(key)), `'"`)
}

func seconds(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetFloat64(key) * float64(time.Second))
}
