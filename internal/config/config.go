package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Vision      VisionConfig      `yaml:"vision"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Transcript  TranscriptConfig  `yaml:"transcript"`
	Worker      WorkerConfig      `yaml:"worker"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// Async enables the capture queue, MinIO staging and the WebSocket feed.
	Async bool `yaml:"async"`
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Name         string `yaml:"name"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	MaxConns     int    `yaml:"max_conns"`
	EmbeddingDim int    `yaml:"embedding_dim"`
	EfSearch     int    `yaml:"ef_search"`
	// URL overrides the individual connection fields when set.
	URL string `yaml:"url"`
}

func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	OnnxLibPath        string  `yaml:"onnx_lib_path"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	MinConfidence      float64 `yaml:"min_confidence"`
	MaxImageBytes      int64   `yaml:"max_image_bytes"`
}

type RecognitionConfig struct {
	Threshold    float64       `yaml:"threshold"`
	ModelName    string        `yaml:"model_name"`
	Index        string        `yaml:"index"` // postgres, flat or hnsw
	IndexRefresh time.Duration `yaml:"index_refresh"`
	HNSWM        int           `yaml:"hnsw_m"`
	HNSWEf       int           `yaml:"hnsw_ef_search"`
}

type TranscriptConfig struct {
	GeminiAPIKey string `yaml:"gemini_api_key"`
	GeminiModel  string `yaml:"gemini_model"`
}

type WorkerConfig struct {
	Count int `yaml:"count"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
// A missing file is not an error: defaults and environment still apply.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Database.Driver)
	}
	switch c.Recognition.Index {
	case "postgres", "flat", "hnsw":
	default:
		return fmt.Errorf("recognition.index must be postgres, flat or hnsw, got %q", c.Recognition.Index)
	}
	if c.Recognition.Index == "postgres" && c.Database.Driver != DriverPostgres {
		return fmt.Errorf("recognition.index postgres requires database.driver postgres")
	}
	if c.Recognition.Threshold <= 0 {
		return fmt.Errorf("recognition.threshold must be positive, got %v", c.Recognition.Threshold)
	}
	if c.Database.EmbeddingDim <= 0 {
		return fmt.Errorf("database.embedding_dim must be positive, got %d", c.Database.EmbeddingDim)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverPostgres
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Database.EmbeddingDim == 0 {
		cfg.Database.EmbeddingDim = 512
	}
	if cfg.Database.EfSearch == 0 {
		cfg.Database.EfSearch = 100
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "visage-captures"
	}
	if cfg.Vision.ModelsDir == "" {
		cfg.Vision.ModelsDir = "models"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.MinConfidence == 0 {
		cfg.Vision.MinConfidence = 0.9
	}
	if cfg.Vision.MaxImageBytes == 0 {
		cfg.Vision.MaxImageBytes = 10 << 20
	}
	if cfg.Recognition.Threshold == 0 {
		cfg.Recognition.Threshold = 0.85
	}
	if cfg.Recognition.ModelName == "" {
		cfg.Recognition.ModelName = "arcface_w600k_r50"
	}
	if cfg.Recognition.Index == "" {
		if cfg.Database.Driver == DriverMemory {
			cfg.Recognition.Index = "flat"
		} else {
			cfg.Recognition.Index = "postgres"
		}
	}
	if cfg.Recognition.IndexRefresh == 0 {
		cfg.Recognition.IndexRefresh = time.Minute
	}
	if cfg.Recognition.HNSWM == 0 {
		cfg.Recognition.HNSWM = 16
	}
	if cfg.Recognition.HNSWEf == 0 {
		cfg.Recognition.HNSWEf = 100
	}
	if cfg.Transcript.GeminiModel == "" {
		cfg.Transcript.GeminiModel = "gemini-2.5-flash"
	}
	if cfg.Worker.Count == 0 {
		cfg.Worker.Count = 4
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VISAGE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("VISAGE_ASYNC"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Server.Async = b
		}
	}
	if v := os.Getenv("VISAGE_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("VISAGE_DB_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("VISAGE_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("VISAGE_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("VISAGE_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("VISAGE_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("VISAGE_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("VISAGE_EMBEDDING_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.EmbeddingDim = n
		}
	}
	if v := os.Getenv("VISAGE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("VISAGE_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("VISAGE_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("VISAGE_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("VISAGE_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("VISAGE_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("VISAGE_ONNX_LIB"); v != "" {
		cfg.Vision.OnnxLibPath = v
	}
	if v := os.Getenv("VISAGE_MATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Recognition.Threshold = f
		}
	}
	if v := os.Getenv("VISAGE_INDEX"); v != "" {
		cfg.Recognition.Index = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Transcript.GeminiAPIKey = v
	}
	if v := os.Getenv("VISAGE_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Count = n
		}
	}
	if v := os.Getenv("VISAGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
