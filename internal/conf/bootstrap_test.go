package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))
	return configPath
}

func TestNewBootstrap_Defaults(t *testing.T) {
	configPath := writeConfig(t, `server:
  http:
    addr: :8080
data:
  database:
    driver: mysql
`)
	t.Setenv("DATABASE_DSN", "user:pass@tcp(localhost:3306)/orders")

	bc, err := NewBootstrap(configPath)
	require.NoError(t, err)
	require.NotNil(t, bc)

	assert.Equal(t, ":8080", bc.Server.Http.Addr)
	assert.Equal(t, "mysql", bc.Data.Database.Driver)
	assert.Equal(t, "user:pass@tcp(localhost:3306)/orders", bc.Data.Database.Source)
	assert.Equal(t, "127.0.0.1:6379", bc.Data.Redis.Addr)
	assert.Equal(t, 200*time.Millisecond, bc.Data.Redis.ReadTimeout)

	assert.Equal(t, "https://merchant-api.ifood.com.br", bc.Upstream.BaseURL)
	assert.Equal(t, []string{"PLC", "CFM", "SPS", "SPE", "RTP", "DSP", "CON", "CAN"}, bc.Upstream.EventTypes)
	assert.Equal(t, "ALL", bc.Upstream.Categories)

	assert.Equal(t, 30*time.Second, bc.Polling.Interval)
	assert.Equal(t, 100*time.Millisecond, bc.Polling.Tolerance)
	assert.Equal(t, 5, bc.Polling.ErrorCeiling)
	assert.Equal(t, 500*time.Millisecond, bc.Polling.DriftCorrectionCap)
	assert.Equal(t, 50, bc.Polling.TimingSamples)

	assert.Equal(t, 2000, bc.Acknowledgment.BatchSize)
	assert.Equal(t, 3, bc.Acknowledgment.MaxAttempts)
	assert.Equal(t, 10*time.Second, bc.Acknowledgment.Timeout)

	assert.Equal(t, 3, bc.Retry.MaxAttempts)
	assert.Equal(t, time.Second, bc.Retry.InitialDelay)
	assert.Equal(t, 30*time.Second, bc.Retry.MaxDelay)
	assert.Equal(t, 2.0, bc.Retry.Multiplier)
	assert.Equal(t, 0.25, bc.Retry.Jitter)

	assert.Equal(t, 3, bc.Breaker.Threshold)
	assert.Equal(t, 60*time.Second, bc.Breaker.Timeout)

	assert.Equal(t, 120, bc.RateLimit.MaxPerWindow)
	assert.Equal(t, time.Minute, bc.RateLimit.Window)
	assert.Equal(t, "redis", bc.RateLimit.Backend)

	assert.Equal(t, 99.0, bc.Compliance.MinTimingAccuracy)
	assert.Equal(t, 5*time.Minute, bc.Compliance.AlertCooldown)
	assert.Equal(t, 5*time.Minute, bc.Cache.CredentialTTL)
	assert.Equal(t, 10*time.Minute, bc.Cache.MerchantTTL)
	assert.Equal(t, 10000, bc.Dedup.MaxPerSession)

	assert.Equal(t, "info", bc.Log.Level)
	assert.Equal(t, "json", bc.Log.Format)
}

func TestNewBootstrap_EnvOverrides(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, bc *Bootstrap)
	}{
		{
			name:    "override_http_addr",
			envVars: map[string]string{"ORDERRELAY_SERVER_HTTP_ADDR": ":9999"},
			validate: func(t *testing.T, bc *Bootstrap) {
				assert.Equal(t, ":9999", bc.Server.Http.Addr)
			},
		},
		{
			name:    "override_polling_interval",
			envVars: map[string]string{"ORDERRELAY_POLLING_INTERVAL": "15s"},
			validate: func(t *testing.T, bc *Bootstrap) {
				assert.Equal(t, 15*time.Second, bc.Polling.Interval)
			},
		},
		{
			name:    "override_event_types",
			envVars: map[string]string{"ORDERRELAY_UPSTREAM_EVENT_TYPES": "PLC, CAN"},
			validate: func(t *testing.T, bc *Bootstrap) {
				assert.Equal(t, []string{"PLC", "CAN"}, bc.Upstream.EventTypes)
			},
		},
		{
			name:    "redis_addr_alias",
			envVars: map[string]string{"REDIS_ADDR": "redis:6380"},
			validate: func(t *testing.T, bc *Bootstrap) {
				assert.Equal(t, "redis:6380", bc.Data.Redis.Addr)
			},
		},
		{
			name:    "encryption_key_alias",
			envVars: map[string]string{"CREDENTIAL_ENCRYPTION_KEY": "k"},
			validate: func(t *testing.T, bc *Bootstrap) {
				assert.Equal(t, "k", bc.Data.Credentials.EncryptionKey)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_DSN", "user:pass@tcp(localhost:3306)/orders")
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			bc, err := NewBootstrap("")
			require.NoError(t, err)
			tt.validate(t, bc)
		})
	}
}

func TestNewBootstrap_EventTypesAsYAMLList(t *testing.T) {
	configPath := writeConfig(t, `data:
  database:
    driver: sqlite
upstream:
  event_types:
    - PLC
    - CFM
`)
	bc, err := NewBootstrap(configPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"PLC", "CFM"}, bc.Upstream.EventTypes)
}

func TestNewBootstrap_MissingDSN(t *testing.T) {
	_, err := NewBootstrap("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required configuration fields")
	assert.Contains(t, err.Error(), "DATABASE_DSN")
}

func TestNewBootstrap_SqliteNeedsNoDSN(t *testing.T) {
	t.Setenv("ORDERRELAY_DATA_DATABASE_DRIVER", "sqlite")
	bc, err := NewBootstrap("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", bc.Data.Database.Driver)
}

func TestNewBootstrap_ConfigFileNotFound(t *testing.T) {
	_, err := NewBootstrap(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidate(t *testing.T) {
	t.Run("unsupported_driver", func(t *testing.T) {
		bc := &Bootstrap{
			Data:     &Data{Database: &Data_Database{Driver: "oracle"}},
			Upstream: &Upstream{BaseURL: "https://x"},
		}
		err := Validate(bc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported")
	})

	t.Run("batch_size_above_upstream_limit", func(t *testing.T) {
		bc := &Bootstrap{
			Data:           &Data{Database: &Data_Database{Driver: "sqlite"}},
			Upstream:       &Upstream{BaseURL: "https://x"},
			Acknowledgment: &Acknowledgment{BatchSize: 2001},
		}
		err := Validate(bc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "acknowledgment.batch_size")
	})

	t.Run("nil_data", func(t *testing.T) {
		err := Validate(&Bootstrap{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "data.database")
		assert.Contains(t, err.Error(), "upstream.base_url")
	})
}
