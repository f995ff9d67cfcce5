package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// generateNodeID creates a unique engine instance ID using hostname and PID
func generateNodeID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "engine"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string

	// Database
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// OpenAI
	OpenAIAPIKey       string
	LLMModel           string
	EmbeddingModel     string
	LLMMaxTokens       int
	LLMTemperature     float64
	EmbedTimeoutSec    int
	CompleteTimeoutSec int

	// Engine instance
	NodeID          string
	SnowflakeNodeID int

	// Worker pool
	WorkerCount     int
	WorkerQueueSize int
	JobTimeoutSec   int

	// Consumer (Redis Stream)
	ConsumerBatchSize       int
	ConsumerBlockMS         int
	ConsumerMaxRetries      int
	ConsumerPendingCheckSec int

	// Dedupe
	DedupeTTLHour int

	// Review queue
	ReviewTTLHour        int
	ReviewSweepIntervalM int

	// Shadow mode
	ShadowMode bool

	// Policy (initial snapshot; reloadable at runtime via SetPolicy)
	Policy PolicyConfig
}

// PolicyConfig holds the decision thresholds and learning parameters. It is
// always read as a whole snapshot and replaced as a whole, never mutated
// field by field, so a decision never sees a half-updated configuration.
type PolicyConfig struct {
	// AutoThreshold: combined score at or above which an auto-executable,
	// safe, non-degraded match is executed without review.
	AutoThreshold float64

	// QueueFloor: combined score at or above which a non-auto match is
	// queued for human review. Below it the message is declined.
	QueueFloor float64

	// Matching weights; both sub-scores are normalized to [0,1] first.
	LexicalWeight  float64
	SemanticWeight float64

	// LearningRate: EMA step for accept/reject confidence updates.
	LearningRate float64

	// EditedRate: EMA step for an edited verdict (partial rejection).
	EditedRate float64

	// ReinforceThreshold: semantic similarity above which a resolved turn
	// reinforces an existing pattern instead of proposing a new one.
	ReinforceThreshold float64

	// GeneralizeFloor: minimum generalization confidence from the
	// completion provider; below it the learner keeps a literal template.
	GeneralizeFloor float64

	// MinExecutionsForAuto: observed executions before a learned pattern
	// may be promoted to auto-executable.
	MinExecutionsForAuto int

	// PromoteConfidence: confidence required for that promotion.
	PromoteConfidence float64

	// SeedConfidence: initial confidence for newly proposed patterns.
	SeedConfidence float64

	// FeedbackWindowMin: minutes after an auto-executed reply during which
	// an operator correction counts as an implicit rejection. Once the
	// window passes without a correction, the reply counts as accepted.
	FeedbackWindowMin int

	// AlwaysReviewTags: safety tags that force human review.
	AlwaysReviewTags []string

	// SensitiveKeywords: lowercase substrings that mark a message or a
	// rendered reply as sensitive. Sensitive messages always route to
	// review, whatever the match score.
	SensitiveKeywords []string
}

// DefaultPolicyConfig returns the default decision policy.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		AutoThreshold:        0.85,
		QueueFloor:           0.50,
		LexicalWeight:        0.3,
		SemanticWeight:       0.7,
		LearningRate:         0.2,
		EditedRate:           0.1,
		ReinforceThreshold:   0.82,
		GeneralizeFloor:      0.6,
		MinExecutionsForAuto: 5,
		PromoteConfidence:    0.75,
		SeedConfidence:       0.3,
		FeedbackWindowMin:    60,
		AlwaysReviewTags:     []string{"payment", "refund", "security", "legal"},
		SensitiveKeywords: []string{
			"chargeback",
			"lawsuit",
			"lawyer",
			"attorney",
			"legal action",
			"sue you",
			"credit card number",
			"password",
			"injury",
			"injured",
			"accident",
			"harass",
			"discriminat",
			"refund",
			"cancel my membership",
		},
	}
}

// policy holds the live snapshot. Swapped whole on reload.
var policy atomic.Pointer[PolicyConfig]

// CurrentPolicy returns the live policy snapshot.
func CurrentPolicy() PolicyConfig {
	if p := policy.Load(); p != nil {
		return *p
	}
	return DefaultPolicyConfig()
}

// SetPolicy atomically replaces the live policy snapshot.
func SetPolicy(p PolicyConfig) {
	policy.Store(&p)
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENV", "development"),
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", nil),
		JWTSecret:      getEnv("JWT_SECRET", ""),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "response_engine"),
		RedisURL:    getEnv("REDIS_URL", ""),

		// OpenAI
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		LLMModel:           getEnv("LLM_MODEL", "gpt-4o-mini"),
		EmbeddingModel:     getEnv("EMBEDDING_MODEL", "text-embedding-ada-002"),
		LLMMaxTokens:       getEnvInt("LLM_MAX_TOKENS", 1024),
		LLMTemperature:     getEnvFloat("LLM_TEMPERATURE", 0.2),
		EmbedTimeoutSec:    getEnvInt("EMBED_TIMEOUT_SEC", 10),
		CompleteTimeoutSec: getEnvInt("COMPLETE_TIMEOUT_SEC", 30),

		// Engine instance
		NodeID:          getEnv("NODE_ID", generateNodeID()),
		SnowflakeNodeID: getEnvInt("SNOWFLAKE_NODE_ID", 1),

		// Worker pool
		WorkerCount:     getEnvInt("WORKER_COUNT", 8),
		WorkerQueueSize: getEnvInt("WORKER_QUEUE_SIZE", 1000),
		JobTimeoutSec:   getEnvInt("JOB_TIMEOUT_SEC", 60),

		// Consumer
		ConsumerBatchSize:       getEnvInt("CONSUMER_BATCH_SIZE", 10),
		ConsumerBlockMS:         getEnvInt("CONSUMER_BLOCK_MS", 5000),
		ConsumerMaxRetries:      getEnvInt("CONSUMER_MAX_RETRIES", 3),
		ConsumerPendingCheckSec: getEnvInt("CONSUMER_PENDING_CHECK_SEC", 30),

		// Dedupe
		DedupeTTLHour: getEnvInt("DEDUPE_TTL_HOUR", 24),

		// Review queue
		ReviewTTLHour:        getEnvInt("REVIEW_TTL_HOUR", 72),
		ReviewSweepIntervalM: getEnvInt("REVIEW_SWEEP_INTERVAL_MIN", 15),

		// Shadow mode
		ShadowMode: getEnvBool("SHADOW_MODE", false),

		Policy: loadPolicy(),
	}

	SetPolicy(cfg.Policy)
	return cfg, nil
}

func loadPolicy() PolicyConfig {
	p := DefaultPolicyConfig()
	p.AutoThreshold = getEnvFloat("AUTO_THRESHOLD", p.AutoThreshold)
	p.QueueFloor = getEnvFloat("QUEUE_FLOOR", p.QueueFloor)
	p.LexicalWeight = getEnvFloat("LEXICAL_WEIGHT", p.LexicalWeight)
	p.SemanticWeight = getEnvFloat("SEMANTIC_WEIGHT", p.SemanticWeight)
	p.LearningRate = getEnvFloat("LEARNING_RATE", p.LearningRate)
	p.EditedRate = getEnvFloat("EDITED_RATE", p.EditedRate)
	p.ReinforceThreshold = getEnvFloat("REINFORCE_THRESHOLD", p.ReinforceThreshold)
	p.GeneralizeFloor = getEnvFloat("GENERALIZE_FLOOR", p.GeneralizeFloor)
	p.MinExecutionsForAuto = getEnvInt("MIN_EXECUTIONS_FOR_AUTO", p.MinExecutionsForAuto)
	p.PromoteConfidence = getEnvFloat("PROMOTE_CONFIDENCE", p.PromoteConfidence)
	p.SeedConfidence = getEnvFloat("SEED_CONFIDENCE", p.SeedConfidence)
	p.FeedbackWindowMin = getEnvInt("FEEDBACK_WINDOW_MIN", p.FeedbackWindowMin)
	p.AlwaysReviewTags = getEnvSlice("ALWAYS_REVIEW_TAGS", p.AlwaysReviewTags)
	p.SensitiveKeywords = getEnvSlice("SENSITIVE_KEYWORDS", p.SensitiveKeywords)
	return p
}

// EmbedTimeout returns the embedding call timeout.
func (c *Config) EmbedTimeout() time.Duration {
	return time.Duration(c.EmbedTimeoutSec) * time.Second
}

// CompleteTimeout returns the completion call timeout.
func (c *Config) CompleteTimeout() time.Duration {
	return time.Duration(c.CompleteTimeoutSec) * time.Second
}

// ReviewTTL returns the review item expiry deadline.
func (c *Config) ReviewTTL() time.Duration {
	return time.Duration(c.ReviewTTLHour) * time.Hour
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
