package cli

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/akarpov87/m2mfetch/internal/config"
)

// configFlags bind individual config knobs to the command line, the last
// layer of the defaults → file → flags overlay. Only flags the user actually
// set are applied, so a flag's zero value never clobbers the file.
type configFlags struct {
	endpoint     string
	timeout      time.Duration
	concurrency  int
	batchSize    int
	pollInterval time.Duration
	pollCap      time.Duration
	pollMaxWait  time.Duration
	fetchRetries uint64
}

func (f *configFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.endpoint, "endpoint", "", "service endpoint URL")
	fs.DurationVar(&f.timeout, "timeout", 0, "HTTP timeout for service calls")
	fs.IntVar(&f.concurrency, "concurrency", 0, "parallel file transfers")
	fs.IntVar(&f.batchSize, "batch-size", 0, "scenes per download request")
	fs.DurationVar(&f.pollInterval, "poll-interval", 0, "initial readiness-poll delay")
	fs.DurationVar(&f.pollCap, "poll-cap", 0, "backoff ceiling between polls")
	fs.DurationVar(&f.pollMaxWait, "poll-max-wait", 0, "total wait before a pending download expires")
	fs.Uint64Var(&f.fetchRetries, "fetch-retries", 0, "network retries per file transfer")
}

func (f *configFlags) apply(cfg *config.Config, fs *pflag.FlagSet) {
	if fs.Changed("endpoint") {
		cfg.Endpoint = f.endpoint
	}
	if fs.Changed("timeout") {
		cfg.HTTPTimeout = config.Duration(f.timeout)
	}
	if fs.Changed("concurrency") {
		cfg.Concurrency = f.concurrency
	}
	if fs.Changed("batch-size") {
		cfg.BatchSize = f.batchSize
	}
	if fs.Changed("poll-interval") {
		cfg.PollInterval = config.Duration(f.pollInterval)
	}
	if fs.Changed("poll-cap") {
		cfg.PollCap = config.Duration(f.pollCap)
	}
	if fs.Changed("poll-max-wait") {
		cfg.PollMaxWait = config.Duration(f.pollMaxWait)
	}
	if fs.Changed("fetch-retries") {
		cfg.FetchRetries = f.fetchRetries
	}
}
