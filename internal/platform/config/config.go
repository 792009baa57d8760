package config

import (
	"os"
	"strings"
	"time"

	strutil "escrowd/pkg/platform/strings"
)

// Server captures process level configuration.
type Server struct {
	Addr            string
	JWTSigningKey   string
	GovernanceParty string
	KYCRequired     bool

	PostgresURL string
	Redis       RedisConfig
	Kafka       KafkaConfig
}

// RedisConfig configures the optional Redis backend for the volume limiter.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the optional domain event feed for the reputation
// subscriber. Empty brokers disables publishing.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("ESCROWD_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	governance := os.Getenv("GOVERNANCE_PARTY")
	if governance == "" {
		governance = "governance"
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		brokers = strutil.DedupeAndTrim(strings.Split(raw, ","))
	}
	topic := os.Getenv("KAFKA_EVENTS_TOPIC")
	if topic == "" {
		topic = "escrow.events"
	}

	return Server{
		Addr:            addr,
		JWTSigningKey:   jwtSigningKey,
		GovernanceParty: governance,
		KYCRequired:     os.Getenv("KYC_REQUIRED") == "true",
		PostgresURL:     os.Getenv("POSTGRES_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{Brokers: brokers, Topic: topic},
	}
}
