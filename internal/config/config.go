package config

import (
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/tripconnect/messaging-service/pkg/config"
	"github.com/tripconnect/messaging-service/pkg/database"
	"github.com/tripconnect/messaging-service/pkg/log"
	"github.com/tripconnect/messaging-service/pkg/storage"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
	Redis     RedisConfig
	Database  database.Config
	Cassandra CassandraConfig
	Kafka     KafkaConfig
	Storage   StorageConfig
	Rooms     RoomsConfig
	Messages  MessagesConfig
	Offline   OfflineConfig
	RateLimit RateLimitConfig
	Log       log.Config
}

type ServerConfig struct {
	Host string
	Port int
}

type WebSocketConfig struct {
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	MissedHeartbeats   int           `mapstructure:"missed_heartbeats"`
	WriteWait          time.Duration `mapstructure:"write_wait"`
	MaxMessageSize     int64         `mapstructure:"max_message_size"`
	SendBufferSize     int           `mapstructure:"send_buffer_size"`
	TypingClearTimeout time.Duration `mapstructure:"typing_clear_timeout"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type RedisConfig struct {
	Enabled           bool
	Address           string
	Password          string
	DB                int
	IndexPrefix       string        `mapstructure:"index_prefix"`
	IndexTTL          time.Duration `mapstructure:"index_ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
}

type CassandraConfig struct {
	Hosts          []string      `mapstructure:"hosts"`
	Keyspace       string        `mapstructure:"keyspace"`
	Consistency    string        `mapstructure:"consistency"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Brokers    string `mapstructure:"brokers"`
	Topic      string `mapstructure:"topic"`
	Partitions int    `mapstructure:"partitions"`
}

type StorageConfig struct {
	Backend string              `mapstructure:"backend"` // local | s3
	Local   storage.LocalConfig `mapstructure:"local"`
	S3      storage.S3Config    `mapstructure:"s3"`
}

type RoomsConfig struct {
	MaxParticipants  int           `mapstructure:"max_participants"`
	MaxNameLength    int           `mapstructure:"max_name_length"`
	DefaultRetention int           `mapstructure:"default_retention_days"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	UpdateRetries    int           `mapstructure:"update_retries"`
}

type MessagesConfig struct {
	MaxContentLength int           `mapstructure:"max_content_length"`
	MaxThreadDepth   int           `mapstructure:"max_thread_depth"`
	DedupWindow      time.Duration `mapstructure:"dedup_window"`
	BatchSize        int           `mapstructure:"batch_size"`
	BatchInterval    time.Duration `mapstructure:"batch_interval"`
	PersistRetries   int           `mapstructure:"persist_retries"`
	DeliveryTimeout  time.Duration `mapstructure:"delivery_timeout"`
	HistoryPageLimit int           `mapstructure:"history_page_limit"`
	HistoryPageSize  int           `mapstructure:"history_page_size"`
}

type OfflineConfig struct {
	Capacity   int           `mapstructure:"capacity"`
	MaxAge     time.Duration `mapstructure:"max_age"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type RateLimitConfig struct {
	MessagesPerMinute int `mapstructure:"messages_per_minute"`
	TypingPerMinute   int `mapstructure:"typing_per_minute"`
	ReceiptsPerMinute int `mapstructure:"receipts_per_minute"`
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	setDefaults(v)

	v.BindEnv("server.port", "PORT")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("cassandra.hosts", "CASSANDRA_HOSTS")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_TOPIC")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.WebSocket.HeartbeatInterval = parseDuration(v, "websocket.heartbeat_interval", 30*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.WebSocket.TypingClearTimeout = parseDuration(v, "websocket.typing_clear_timeout", 5*time.Second)
	cfg.Redis.IndexTTL = parseDuration(v, "redis.index_ttl", 30*time.Second)
	cfg.Redis.HeartbeatInterval = parseDuration(v, "redis.heartbeat_interval", 10*time.Second)
	cfg.Redis.CacheTTL = parseDuration(v, "redis.cache_ttl", 30*time.Second)
	cfg.Cassandra.ConnectTimeout = parseDuration(v, "cassandra.connect_timeout", 10*time.Second)
	cfg.Cassandra.Timeout = parseDuration(v, "cassandra.timeout", 5*time.Second)
	cfg.Rooms.SweepInterval = parseDuration(v, "rooms.sweep_interval", time.Hour)
	cfg.Messages.DedupWindow = parseDuration(v, "messages.dedup_window", 2*time.Second)
	cfg.Messages.BatchInterval = parseDuration(v, "messages.batch_interval", 250*time.Millisecond)
	cfg.Messages.DeliveryTimeout = parseDuration(v, "messages.delivery_timeout", 30*time.Second)
	cfg.Offline.MaxAge = parseDuration(v, "offline.max_age", 5*time.Minute)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)

	v.SetDefault("websocket.heartbeat_interval", "30s")
	v.SetDefault("websocket.missed_heartbeats", 2)
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 8192)
	v.SetDefault("websocket.send_buffer_size", 256)
	v.SetDefault("websocket.typing_clear_timeout", "5s")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "tripconnect-auth")

	// Disabled by default; single-node deployments run on the in-memory
	// fallbacks without a redis.
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.index_prefix", "messaging:index")
	v.SetDefault("redis.index_ttl", "30s")
	v.SetDefault("redis.heartbeat_interval", "10s")
	v.SetDefault("redis.cache_ttl", "30s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "./data/rooms.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "messaging")
	v.SetDefault("database.dbname", "messaging")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("cassandra.hosts", []string{"localhost:9042"})
	v.SetDefault("cassandra.keyspace", "messaging")
	v.SetDefault("cassandra.consistency", "LOCAL_QUORUM")
	v.SetDefault("cassandra.connect_timeout", "10s")
	v.SetDefault("cassandra.timeout", "5s")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "chat.messages.persisted")
	v.SetDefault("kafka.partitions", 8)

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local.base_path", "./data/attachments")

	// One service-wide cap; per-room settings may lower it but never raise it.
	v.SetDefault("rooms.max_participants", 100)
	v.SetDefault("rooms.max_name_length", 100)
	v.SetDefault("rooms.default_retention_days", 365)
	v.SetDefault("rooms.sweep_interval", "1h")
	v.SetDefault("rooms.update_retries", 3)

	v.SetDefault("messages.max_content_length", 4000)
	v.SetDefault("messages.max_thread_depth", 50)
	v.SetDefault("messages.dedup_window", "2s")
	v.SetDefault("messages.batch_size", 50)
	v.SetDefault("messages.batch_interval", "250ms")
	v.SetDefault("messages.persist_retries", 3)
	v.SetDefault("messages.delivery_timeout", "30s")
	v.SetDefault("messages.history_page_limit", 100)
	v.SetDefault("messages.history_page_size", 50)

	v.SetDefault("offline.capacity", 100)
	v.SetDefault("offline.max_age", "5m")
	v.SetDefault("offline.max_retries", 3)

	v.SetDefault("ratelimit.messages_per_minute", 60)
	v.SetDefault("ratelimit.typing_per_minute", 200)
	v.SetDefault("ratelimit.receipts_per_minute", 120)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "messaging-service")
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return defaultVal
	}
	return d
}
