package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type Config struct {
	DB      DBConfig
	Store   StoreConfig
	MinIO   MinIOConfig
	Gateway GatewayConfig
	Tree    TreeConfig
	Server  ServerConfig
	Owner   OwnerConfig
}

type DBConfig struct {
	Driver     string
	Host       string
	Port       string
	User       string
	Password   string
	Name       string
	SSLMode    string
	SQLitePath string
}

type StoreConfig struct {
	Backend       string
	IPFSAPIURL    string
	Root          string
	Timeout       time.Duration
	StreamTimeout time.Duration
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

type GatewayConfig struct {
	SubdomainURL string
	PathURL      string
	Timeout      time.Duration
}

type TreeConfig struct {
	Locking             bool
	MirrorTimeout       time.Duration
	CompensationTimeout time.Duration
	ArchiveMaxDepth     int
	SearchMaxDepth      int
	SearchLimit         int
}

type ServerConfig struct {
	Port          string
	BodyLimit     int
	AllowOrigins  string
	ShutdownGrace time.Duration
}

type OwnerConfig struct {
	DefaultID uuid.UUID
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DB: DBConfig{
			Driver:     strings.ToLower(getEnv("DB_DRIVER", "postgres")),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnv("DB_PORT", "5432"),
			User:       getEnv("DB_USER", "linkdrive"),
			Password:   getEnv("DB_PASSWORD", "linkdrive_secret"),
			Name:       getEnv("DB_NAME", "linkdrive"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
			SQLitePath: getEnv("DB_SQLITE_PATH", "linkdrive.db"),
		},
		Store: StoreConfig{
			Backend:       strings.ToLower(getEnv("STORE_BACKEND", "ipfs")),
			IPFSAPIURL:    getEnv("IPFS_API_URL", "localhost:5001"),
			Root:          getEnv("STORE_ROOT", "/linkdrive"),
			Timeout:       getEnvAsDuration("STORE_TIMEOUT", 30*time.Second),
			StreamTimeout: getEnvAsDuration("STORE_STREAM_TIMEOUT", 30*time.Minute),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", "linkdrive"),
			SecretKey: getEnv("MINIO_SECRET_KEY", "linkdrive_secret"),
			Bucket:    getEnv("MINIO_BUCKET", "linkdrive"),
			Region:    getEnv("MINIO_REGION", ""),
			UseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
		},
		Gateway: GatewayConfig{
			SubdomainURL: getEnv("GATEWAY_SUBDOMAIN_URL", "https://dweb.link"),
			PathURL:      getEnv("GATEWAY_PATH_URL", "https://ipfs.io"),
			Timeout:      getEnvAsDuration("GATEWAY_TIMEOUT", 20*time.Second),
		},
		Tree: TreeConfig{
			Locking:             getEnvAsBool("TREE_LOCKING", false),
			MirrorTimeout:       getEnvAsDuration("MIRROR_TIMEOUT", 10*time.Second),
			CompensationTimeout: getEnvAsDuration("COMPENSATION_TIMEOUT", 30*time.Second),
			ArchiveMaxDepth:     getEnvAsInt("ARCHIVE_MAX_DEPTH", 64),
			SearchMaxDepth:      getEnvAsInt("SEARCH_MAX_DEPTH", 32),
			SearchLimit:         getEnvAsInt("SEARCH_LIMIT", 200),
		},
		Server: ServerConfig{
			Port:          getEnv("SERVER_PORT", "8080"),
			BodyLimit:     getEnvAsInt("SERVER_BODY_LIMIT_MB", 1024) * 1024 * 1024,
			AllowOrigins:  getEnv("CORS_ALLOW_ORIGINS", "http://localhost:3001,http://127.0.0.1:3001"),
			ShutdownGrace: getEnvAsDuration("SERVER_SHUTDOWN_GRACE", 10*time.Second),
		},
		Owner: OwnerConfig{
			DefaultID: getEnvAsUUID("DEFAULT_OWNER_ID", uuid.MustParse("00000000-0000-0000-0000-000000000001")),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsUUID(key string, fallback uuid.UUID) uuid.UUID {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := uuid.Parse(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}
