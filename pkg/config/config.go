package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	Neo4j      Neo4jConfig
	LLM        LLMConfig
	Search     SearchConfig
	Extraction ExtractionConfig
	Research   ResearchConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
	// AllowedOrigins is a comma separated CORS list; "*" allows any origin.
	AllowedOrigins  string
	Development     bool
	ShutdownTimeout int
}

type SQLiteConfig struct {
	Path string
}

// RedisConfig enables cross-process event notifications. Leave Enabled off
// for a single-process deployment; the in-process broker is used instead.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type Neo4jConfig struct {
	Enabled  bool
	URI      string
	Username string
	Password string
	Database string
}

type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type SearchConfig struct {
	SerpAPIKey         string
	NewsAPIKey         string
	ExaAPIKey          string
	SemanticScholarKey string
	UserAgent          string
	TimeoutSec         int
	RequestsPerSecond  float64
	MaxConcurrent      int
}

type ExtractionConfig struct {
	Concurrency   int
	TimeoutSec    int
	MaxBodyBytes  int64
	RespectRobots bool
	UserAgent     string
}

type ResearchConfig struct {
	DefaultDepth   string
	PollIntervalMs int
	MaxSourceChars int
	GenerateReport bool
	CitationStyle  string
}

type RateLimitConfig struct {
	MaxRequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/deep-research")

	v.SetEnvPrefix("DEEP_RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 0)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.allowedOrigins", "*")
	v.SetDefault("server.development", false)
	v.SetDefault("server.shutdownTimeout", 30)

	v.SetDefault("sqlite.path", "./data/research.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("neo4j.enabled", false)
	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.maxTokens", 2048)
	v.SetDefault("llm.timeoutSec", 60)

	v.SetDefault("search.serpAPIKey", "")
	v.SetDefault("search.newsAPIKey", "")
	v.SetDefault("search.exaAPIKey", "")
	v.SetDefault("search.semanticScholarKey", "")
	v.SetDefault("search.userAgent", "DeepResearch-Bot/1.0")
	v.SetDefault("search.timeoutSec", 15)
	v.SetDefault("search.requestsPerSecond", 2.0)
	v.SetDefault("search.maxConcurrent", 2)

	v.SetDefault("extraction.concurrency", 5)
	v.SetDefault("extraction.timeoutSec", 30)
	v.SetDefault("extraction.maxBodyBytes", 10485760)
	v.SetDefault("extraction.respectRobots", true)
	v.SetDefault("extraction.userAgent", "DeepResearch-Bot/1.0")

	v.SetDefault("research.defaultDepth", "standard")
	v.SetDefault("research.pollIntervalMs", 1000)
	v.SetDefault("research.maxSourceChars", 4000)
	v.SetDefault("research.generateReport", true)
	v.SetDefault("research.citationStyle", "apa")

	v.SetDefault("ratelimit.maxRequestsPerMinute", 120)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
