package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type APIConfig struct {
	DBDSN      string `envconfig:"DB_DSN" required:"true"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	Port       string `envconfig:"PORT" default:"8080"`
	LogFormat  string `envconfig:"LOG_FORMAT" default:"json"`
}

type WorkerConfig struct {
	DBDSN      string `envconfig:"DB_DSN" required:"true"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	Port       string `envconfig:"PORT" default:"8081"`
	LogFormat  string `envconfig:"LOG_FORMAT" default:"json"`
	Instance   string `envconfig:"INSTANCE_NAME"`

	// scanning
	ScanInterval   time.Duration `envconfig:"SCAN_INTERVAL" default:"60s"`
	ScanBatch      int           `envconfig:"SCAN_BATCH" default:"20"`
	ScanConcurrent int           `envconfig:"SCAN_CONCURRENCY" default:"20"`
	StaleClaim     time.Duration `envconfig:"STALE_CLAIM_AFTER" default:"120s"`
	SweepInterval  time.Duration `envconfig:"STALE_SWEEP_INTERVAL" default:"60s"`

	// retry / fallback policy
	MaxTries             int             `envconfig:"MAX_TRIES" default:"4"`
	RetryDelays          []time.Duration `envconfig:"RETRY_DELAYS" default:"60s,300s,900s,3600s"`
	RateLimitBackoff     time.Duration   `envconfig:"RATE_LIMIT_BACKOFF" default:"30s"`
	RateLimitConsumesTry bool            `envconfig:"RATE_LIMIT_CONSUMES_TRY" default:"true"`

	// shared rate windows
	RateWindow   time.Duration  `envconfig:"RATE_WINDOW" default:"60s"`
	RateCapacity map[string]int `envconfig:"RATE_CAPACITY" default:"facebook_page:200,instagram_business:100,linkedin:100,youtube_draft:50"`
	RedisAddr    string         `envconfig:"REDIS_ADDR"` // when set, rate windows live in redis instead of postgres

	// per-pod smoothing in front of the shared window
	LocalRPS   float64 `envconfig:"LOCAL_RPS" default:"5"`
	LocalBurst int     `envconfig:"LOCAL_BURST" default:"10"`

	// outbound publish calls
	PublishTimeout time.Duration `envconfig:"PUBLISH_TIMEOUT" default:"15s"`

	// token guard
	TokenExpirySkew time.Duration `envconfig:"TOKEN_EXPIRY_SKEW" default:"10m"`

	// internal publish trigger
	WorkerSecret string `envconfig:"WORKER_SHARED_SECRET" required:"true"`

	// optional SQS dispatch decoupling
	AWSRegion          string `envconfig:"AWS_REGION"`
	SQSQueueURL        string `envconfig:"SQS_QUEUE_URL"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
	SQSWaitTime        int32  `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs         int32  `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout      int32  `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"60"`
	SQSConcurrency     int    `envconfig:"SQS_CONCURRENCY" default:"20"`

	// fallback notifications
	GCSBucket      string        `envconfig:"GCS_BUCKET"`
	SignedLinkTTL  time.Duration `envconfig:"SIGNED_LINK_TTL" default:"24h"`
	FallbackFrom   string        `envconfig:"FALLBACK_FROM" default:"no-reply@postflow.dev"`
	NotifyQueueURL string        `envconfig:"NOTIFY_QUEUE_URL"` // notification service inbox for fallback emails

	// oauth app credentials per platform family
	FacebookClientID     string `envconfig:"FACEBOOK_CLIENT_ID"`
	FacebookClientSecret string `envconfig:"FACEBOOK_CLIENT_SECRET"`
	LinkedInClientID     string `envconfig:"LINKEDIN_CLIENT_ID"`
	LinkedInClientSecret string `envconfig:"LINKEDIN_CLIENT_SECRET"`
	GoogleClientID       string `envconfig:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret   string `envconfig:"GOOGLE_CLIENT_SECRET"`
}

func LoadAPI() APIConfig {
	var cfg APIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWorker() WorkerConfig {
	var cfg WorkerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
