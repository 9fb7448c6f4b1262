package config

import "time"

// Store backends accepted by STORE_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
	BackendBadger   = "badger"
)

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment   string
	Addr          string
	LogLevel      string
	StoreBackend  string
	DatabaseURL   string
	MigrationsDir string
	AutoMigrate   bool

	DynamoTable    string
	DynamoEndpoint string
	AWSRegion      string

	BadgerPath     string
	BadgerInMemory bool

	HealthIndexShards     int
	HealthTTL             time.Duration
	HealthPurgeEvery      time.Duration
	OrgCacheTTL           time.Duration
	RuleCacheTTL          time.Duration
	CacheMaxEntries       int64
	DefaultAwaitTimeoutMs int64
	OperatorToken         string

	KafkaBrokers      []string
	KafkaTopic        string
	PublishRateLimit  int
	PublishRateWindow time.Duration

	AdminRateLimit     int
	AdminRateWindow    time.Duration
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadAPIConfig constructs an APIConfig from environment variables, falling
// back to the YAML file named by UMBRELLA_CONFIG_FILE when one is set.
func LoadAPIConfig() (APIConfig, error) {
	if path := GetString("UMBRELLA_CONFIG_FILE", ""); path != "" {
		if err := LoadFile(path); err != nil {
			return APIConfig{}, err
		}
	}
	return APIConfig{
		Environment:   GetString("APP_ENV", "development"),
		Addr:          GetString("API_ADDR", ":4000"),
		LogLevel:      GetString("LOG_LEVEL", "info"),
		StoreBackend:  GetString("STORE_BACKEND", BackendPostgres),
		DatabaseURL:   GetString("DATABASE_URL", "postgres://umbrella:umbrella@db:5432/umbrella?sslmode=disable"),
		MigrationsDir: GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		AutoMigrate:   GetBool("AUTO_MIGRATE", true),

		DynamoTable:    GetString("DYNAMO_TABLE", "umbrella"),
		DynamoEndpoint: GetString("DYNAMO_ENDPOINT", ""),
		AWSRegion:      GetString("AWS_REGION", "us-east-1"),

		BadgerPath:     GetString("BADGER_PATH", "data/badger"),
		BadgerInMemory: GetBool("BADGER_IN_MEMORY", false),

		HealthIndexShards:     GetInt("HEALTH_INDEX_SHARDS", 4),
		HealthTTL:             time.Duration(GetInt("HEALTH_TTL_HOURS", 24)) * time.Hour,
		HealthPurgeEvery:      GetDuration("HEALTH_PURGE_INTERVAL", 10*time.Minute),
		OrgCacheTTL:           time.Duration(GetInt("ORG_CACHE_TTL_SECONDS", 300)) * time.Second,
		RuleCacheTTL:          time.Duration(GetInt("RULE_CACHE_TTL_SECONDS", 300)) * time.Second,
		CacheMaxEntries:       int64(GetInt("CACHE_MAX_ENTRIES", 10000)),
		DefaultAwaitTimeoutMs: int64(GetInt("DEFAULT_AWAIT_TIMEOUT_MS", 5000)),
		OperatorToken:         GetString("OPERATOR_TOKEN", ""),

		KafkaBrokers:      GetList("KAFKA_BROKERS", nil),
		KafkaTopic:        GetString("KAFKA_TOPIC", "umbrella-events"),
		PublishRateLimit:  GetInt("PUBLISH_RATE_LIMIT", 0),
		PublishRateWindow: time.Duration(GetInt("PUBLISH_RATE_WINDOW_SECONDS", 1)) * time.Second,

		AdminRateLimit:     GetInt("ADMIN_RATE_LIMIT", 120),
		AdminRateWindow:    time.Duration(GetInt("ADMIN_RATE_WINDOW_SECONDS", 60)) * time.Second,
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}, nil
}
