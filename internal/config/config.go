package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// SQS config for the document-change event feed
	SQSRegion   string
	SQSQueueURL string

	// AWS Services
	AWSRegion    string
	SESFromEmail string
	SNSRegion    string // AWS region for SNS (SMS)

	// Webhook config
	WebhookTimeout int // Timeout for webhook requests in seconds

	// Scheduler tuning
	DefaultLeadTimes     []int32 // used when a document carries no lead times
	DeliveryRetryCap     int     // attempts before an alert is marked failed
	SweepIntervalSeconds int     // how often the delivery sweep runs
	DeliveryLeaseSeconds int     // how long a claimed alert stays leased
	SweepBatchSize       int     // due alerts fetched per sweep
	SweepConcurrency     int     // parallel deliveries per sweep
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "vigneshrao",
		DBPassword: "",
		DBName:     "docwatch",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@docwatch.local",

		DefaultLeadTimes:     []int32{30, 15, 7, 3, 1},
		DeliveryRetryCap:     3,
		SweepIntervalSeconds: 60,
		DeliveryLeaseSeconds: 120,
		SweepBatchSize:       100,
		SweepConcurrency:     8,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	// SQS config
	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}

	if url := os.Getenv("SQS_QUEUE_URL"); url != "" {
		cfg.SQSQueueURL = url
	}

	// SNS config for SMS
	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	// Webhook config
	if timeout := os.Getenv("WEBHOOK_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid WEBHOOK_TIMEOUT: %w", err)
		}
		cfg.WebhookTimeout = t
	} else {
		cfg.WebhookTimeout = 30 // default 30 seconds
	}

	// Scheduler config
	if raw := os.Getenv("DEFAULT_LEAD_TIMES"); raw != "" {
		leadTimes, err := parseLeadTimes(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid DEFAULT_LEAD_TIMES: %w", err)
		}
		cfg.DefaultLeadTimes = leadTimes
	}

	if cap := os.Getenv("DELIVERY_RETRY_CAP"); cap != "" {
		c, err := strconv.Atoi(cap)
		if err != nil || c < 1 {
			return nil, fmt.Errorf("invalid DELIVERY_RETRY_CAP: %q", cap)
		}
		cfg.DeliveryRetryCap = c
	}

	if interval := os.Getenv("SWEEP_INTERVAL_SECONDS"); interval != "" {
		i, err := strconv.Atoi(interval)
		if err != nil || i < 1 {
			return nil, fmt.Errorf("invalid SWEEP_INTERVAL_SECONDS: %q", interval)
		}
		cfg.SweepIntervalSeconds = i
	}

	if lease := os.Getenv("DELIVERY_LEASE_SECONDS"); lease != "" {
		l, err := strconv.Atoi(lease)
		if err != nil || l < 1 {
			return nil, fmt.Errorf("invalid DELIVERY_LEASE_SECONDS: %q", lease)
		}
		cfg.DeliveryLeaseSeconds = l
	}

	if batch := os.Getenv("SWEEP_BATCH_SIZE"); batch != "" {
		b, err := strconv.Atoi(batch)
		if err != nil || b < 1 {
			return nil, fmt.Errorf("invalid SWEEP_BATCH_SIZE: %q", batch)
		}
		cfg.SweepBatchSize = b
	}

	if conc := os.Getenv("SWEEP_CONCURRENCY"); conc != "" {
		c, err := strconv.Atoi(conc)
		if err != nil || c < 1 {
			return nil, fmt.Errorf("invalid SWEEP_CONCURRENCY: %q", conc)
		}
		cfg.SweepConcurrency = c
	}

	return cfg, nil
}

// parseLeadTimes parses a comma-separated list like "30,15,7,3,1".
func parseLeadTimes(raw string) ([]int32, error) {
	parts := strings.Split(raw, ",")
	leadTimes := make([]int32, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		if n < 1 {
			return nil, fmt.Errorf("lead time must be positive: %d", n)
		}
		leadTimes = append(leadTimes, int32(n))
	}
	return leadTimes, nil
}
