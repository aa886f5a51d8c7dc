// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// NewBootstrap loads configuration from configPath, applies defaults and
// lets ORDERRELAY_ prefixed environment variables override any key.
//
// Configuration priority: Environment variables > Config file > Defaults
//
// Required:
//   - DATABASE_DSN or ORDERRELAY_DATA_DATABASE_SOURCE (not needed for sqlite)
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ORDERRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 兼容不带前缀的环境变量
	_ = v.BindEnv("data.database.source", "DATABASE_DSN", "ORDERRELAY_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "ORDERRELAY_DATA_REDIS_ADDR")
	_ = v.BindEnv("data.credentials.encryption_key", "CREDENTIAL_ENCRYPTION_KEY", "ORDERRELAY_DATA_CREDENTIALS_ENCRYPTION_KEY")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network:    v.GetString("server.http.network"),
				Addr:       v.GetString("server.http.addr"),
				Timeout:    v.GetDuration("server.http.timeout"),
				AdminToken: v.GetString("server.http.admin_token"),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver:      strings.ToLower(v.GetString("data.database.driver")),
				Source:      v.GetString("data.database.source"),
				AutoMigrate: v.GetBool("data.database.auto_migrate"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				Password:     v.GetString("data.redis.password"),
				DB:           v.GetInt("data.redis.db"),
				ReadTimeout:  v.GetDuration("data.redis.read_timeout"),
				WriteTimeout: v.GetDuration("data.redis.write_timeout"),
			},
			Credentials: &Data_Credentials{
				EncryptionKey: v.GetString("data.credentials.encryption_key"),
			},
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
		Upstream: &Upstream{
			BaseURL:    strings.TrimRight(v.GetString("upstream.base_url"), "/"),
			EventTypes: stringList(v, "upstream.event_types"),
			Categories: v.GetString("upstream.categories"),
			ProxyURL:   v.GetString("upstream.proxy_url"),
			UserAgent:  v.GetString("upstream.user_agent"),
		},
		Polling: &Polling{
			Interval:           v.GetDuration("polling.interval"),
			Tolerance:          v.GetDuration("polling.tolerance"),
			Timeout:            v.GetDuration("polling.timeout"),
			MaxEventsPerPoll:   v.GetInt("polling.max_events_per_poll"),
			ErrorCeiling:       v.GetInt("polling.error_ceiling"),
			DriftCorrectionCap: v.GetDuration("polling.drift_correction_cap"),
			TimingSamples:      v.GetInt("polling.timing_samples"),
		},
		Acknowledgment: &Acknowledgment{
			BatchSize:          v.GetInt("acknowledgment.batch_size"),
			MaxAttempts:        v.GetInt("acknowledgment.max_attempts"),
			Timeout:            v.GetDuration("acknowledgment.timeout"),
			MaxPendingPerCycle: v.GetInt("acknowledgment.max_pending_per_cycle"),
		},
		Retry: &Retry{
			MaxAttempts:  v.GetInt("retry.max_attempts"),
			InitialDelay: v.GetDuration("retry.initial_delay"),
			MaxDelay:     v.GetDuration("retry.max_delay"),
			Multiplier:   v.GetFloat64("retry.multiplier"),
			Jitter:       v.GetFloat64("retry.jitter"),
		},
		Breaker: &Breaker{
			Threshold: v.GetInt("breaker.threshold"),
			Timeout:   v.GetDuration("breaker.timeout"),
		},
		RateLimit: &RateLimit{
			MaxPerWindow: v.GetInt("rate_limit.max_per_window"),
			Window:       v.GetDuration("rate_limit.window"),
			Backend:      strings.ToLower(v.GetString("rate_limit.backend")),
		},
		Compliance: &Compliance{
			AckRateWindow:     v.GetDuration("compliance.ack_rate_window"),
			MinTimingAccuracy: v.GetFloat64("compliance.min_timing_accuracy"),
			AlertCooldown:     v.GetDuration("compliance.alert_cooldown"),
			AlertRetention:    v.GetDuration("compliance.alert_retention"),
			MemorySamples:     v.GetInt("compliance.memory_samples"),
			MemoryLeakMB:      v.GetFloat64("compliance.memory_leak_mb"),
			SlowResponse:      v.GetDuration("compliance.slow_response"),
		},
		Cache: &Cache{
			CredentialTTL: v.GetDuration("cache.credential_ttl"),
			MerchantTTL:   v.GetDuration("cache.merchant_ttl"),
			MaxEntries:    v.GetInt("cache.max_entries"),
		},
		Dedup: &Dedup{
			MaxPerSession: v.GetInt("dedup.max_per_session"),
			EvictFraction: v.GetFloat64("dedup.evict_fraction"),
		},
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 30*time.Second)

	v.SetDefault("data.database.driver", "mysql")
	v.SetDefault("data.database.auto_migrate", false)
	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.db", 0)
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("upstream.base_url", "https://merchant-api.ifood.com.br")
	v.SetDefault("upstream.event_types", "PLC,CFM,SPS,SPE,RTP,DSP,CON,CAN")
	v.SetDefault("upstream.categories", "ALL")
	v.SetDefault("upstream.proxy_url", "")
	v.SetDefault("upstream.user_agent", "OrderRelay/1.0")

	// 轮询节奏：30s 间隔，±100ms 容差
	v.SetDefault("polling.interval", 30*time.Second)
	v.SetDefault("polling.tolerance", 100*time.Millisecond)
	v.SetDefault("polling.timeout", 10*time.Second)
	v.SetDefault("polling.max_events_per_poll", 1000)
	v.SetDefault("polling.error_ceiling", 5)
	v.SetDefault("polling.drift_correction_cap", 500*time.Millisecond)
	v.SetDefault("polling.timing_samples", 50)

	v.SetDefault("acknowledgment.batch_size", 2000)
	v.SetDefault("acknowledgment.max_attempts", 3)
	v.SetDefault("acknowledgment.timeout", 10*time.Second)
	v.SetDefault("acknowledgment.max_pending_per_cycle", 4000)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay", time.Second)
	v.SetDefault("retry.max_delay", 30*time.Second)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter", 0.25)

	v.SetDefault("breaker.threshold", 3)
	v.SetDefault("breaker.timeout", 60*time.Second)

	v.SetDefault("rate_limit.max_per_window", 120)
	v.SetDefault("rate_limit.window", 60*time.Second)
	v.SetDefault("rate_limit.backend", "redis")

	v.SetDefault("compliance.ack_rate_window", 24*time.Hour)
	v.SetDefault("compliance.min_timing_accuracy", 99.0)
	v.SetDefault("compliance.alert_cooldown", 5*time.Minute)
	v.SetDefault("compliance.alert_retention", 24*time.Hour)
	v.SetDefault("compliance.memory_samples", 50)
	v.SetDefault("compliance.memory_leak_mb", 50.0)
	v.SetDefault("compliance.slow_response", time.Second)

	v.SetDefault("cache.credential_ttl", 5*time.Minute)
	v.SetDefault("cache.merchant_ttl", 10*time.Minute)
	v.SetDefault("cache.max_entries", 10000)

	v.SetDefault("dedup.max_per_session", 10000)
	v.SetDefault("dedup.evict_fraction", 0.1)
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all missing or invalid fields.
func Validate(bc *Bootstrap) error {
	var missingFields []string

	if bc.Data == nil || bc.Data.Database == nil {
		missingFields = append(missingFields, "data.database")
	} else {
		switch bc.Data.Database.Driver {
		case "mysql", "postgres":
			if bc.Data.Database.Source == "" {
				missingFields = append(missingFields, "data.database.source (DATABASE_DSN)")
			}
		case "sqlite":
			// sqlite 允许空 DSN（使用内存库）
		default:
			missingFields = append(missingFields, fmt.Sprintf("data.database.driver (unsupported %q)", bc.Data.Database.Driver))
		}
	}

	if bc.Upstream == nil || bc.Upstream.BaseURL == "" {
		missingFields = append(missingFields, "upstream.base_url")
	}

	if len(missingFields) > 0 {
		return fmt.Errorf("missing required configuration fields: %s", strings.Join(missingFields, ", "))
	}

	var invalid []string
	if bc.Polling != nil && bc.Polling.Interval <= 0 {
		invalid = append(invalid, "polling.interval must be positive")
	}
	if bc.Acknowledgment != nil && (bc.Acknowledgment.BatchSize <= 0 || bc.Acknowledgment.BatchSize > 2000) {
		invalid = append(invalid, "acknowledgment.batch_size must be within 1..2000")
	}
	if bc.Retry != nil && bc.Retry.MaxAttempts < 1 {
		invalid = append(invalid, "retry.max_attempts must be at least 1")
	}
	if bc.Breaker != nil && bc.Breaker.Threshold < 1 {
		invalid = append(invalid, "breaker.threshold must be at least 1")
	}
	if bc.RateLimit != nil && bc.RateLimit.MaxPerWindow < 1 {
		invalid = append(invalid, "rate_limit.max_per_window must be at least 1")
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(invalid, "; "))
	}

	return nil
}

// stringList accepts both a YAML sequence and a comma separated string.
func stringList(v *viper.Viper, key string) []string {
	var parts []string
	switch raw := v.Get(key).(type) {
	case []interface{}, []string:
		parts = v.GetStringSlice(key)
	default:
		parts = strings.Split(fmt.Sprint(raw), ",")
	}
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
