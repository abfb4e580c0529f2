package observability

import (
	"testing"

	"github.com/smallbiznis/paygate/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "false")
	t.Setenv("LOG_FORMAT", "Console")
	t.Setenv("DEPLOYMENT_ENV", "")

	cfg := LoadConfig(config.Config{Environment: "development", AppVersion: "1.2.3"})
	assert.Equal(t, "paygate", cfg.ServiceName)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.False(t, cfg.OtelEnabled)
	assert.Equal(t, "1.2.3", cfg.Version)
	assert.True(t, cfg.Debug())
}
