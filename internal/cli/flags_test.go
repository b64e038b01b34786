package cli

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akarpov87/m2mfetch/internal/config"
	"github.com/akarpov87/m2mfetch/internal/m2m"
)

func TestConfigFlagsOverlay(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	var cf configFlags
	cf.register(fs)
	require.NoError(t, fs.Parse([]string{
		"--concurrency=2",
		"--batch-size=50",
		"--poll-interval=10s",
		"--poll-max-wait=2h",
	}))

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cf.apply(cfg, fs)

	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.PollInterval.Std())
	assert.Equal(t, 2*time.Hour, cfg.PollMaxWait.Std())

	// Flags the user never set leave the lower layers alone.
	assert.Equal(t, m2m.DefaultEndpoint, cfg.Endpoint)
	assert.Equal(t, 90*time.Second, cfg.HTTPTimeout.Std())
	assert.Equal(t, time.Minute, cfg.PollCap.Std())
	assert.Equal(t, uint64(3), cfg.FetchRetries)
}

func TestConfigFlagsOverlay_NothingSet(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	var cf configFlags
	cf.register(fs)
	require.NoError(t, fs.Parse(nil))

	cfg := &config.Config{}
	cfg.LoadDefaults()
	want := *cfg
	cf.apply(cfg, fs)

	assert.Equal(t, want, *cfg)
}
