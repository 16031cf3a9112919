package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gatewayConfig struct {
	Port          int           `env:"HTTP_PORT" envDefault:"8009"`
	Brokers       []string      `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	Timeout       time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	WebhookSecret string        `env:"WEBHOOK_SECRET,required"`
}

func TestLoadFrom(t *testing.T) {
	var cfg gatewayConfig
	err := LoadFrom(&cfg, map[string]string{
		"KAFKA_BROKERS":   "kafka-1:9092,kafka-2:9092",
		"GATEWAY_TIMEOUT": "2500ms",
		"WEBHOOK_SECRET":  "whsec_test",
	})

	require.NoError(t, err)
	assert.Equal(t, 8009, cfg.Port)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Brokers)
	assert.Equal(t, 2500*time.Millisecond, cfg.Timeout)
	assert.Equal(t, "whsec_test", cfg.WebhookSecret)
}

func TestLoadFrom_Errors(t *testing.T) {
	tests := []struct {
		name    string
		environ map[string]string
		want    string
	}{
		{"missing required", map[string]string{}, "WEBHOOK_SECRET"},
		{"bad int", map[string]string{"WEBHOOK_SECRET": "s", "HTTP_PORT": "eighty"}, "HTTP_PORT"},
		{"bad duration", map[string]string{"WEBHOOK_SECRET": "s", "GATEWAY_TIMEOUT": "soon"}, "GATEWAY_TIMEOUT"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var cfg gatewayConfig
			err := LoadFrom(&cfg, tc.environ)

			require.Error(t, err)
			assert.Contains(t, err.Error(), "parse config")
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_ReadsProcessEnvironment(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET", "from-env")
	t.Setenv("HTTP_PORT", "9100")

	var cfg gatewayConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "from-env", cfg.WebhookSecret)
}

func TestLoad_RejectsNonPointer(t *testing.T) {
	assert.Error(t, Load(gatewayConfig{}))
}
