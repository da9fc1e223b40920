/*
mtasession runs a standalone SMTP and/or LMTP session engine: it accepts
inbound mail connections, applies the configured directory/sieve/milter/
MTA-hook/rate-limit/relay policy pipeline to each RCPT, and hands accepted
messages to the configured queue (S3 object storage or relay-by-SMTP).
*/
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"io/ioutil"
	"os"

	"github.com/relaydog/mtasession/daemon/common"
	"github.com/relaydog/mtasession/daemon/smtpd"
	"github.com/relaydog/mtasession/daemon/smtpd/collab"
	"github.com/relaydog/mtasession/lalog"
)

var logger = lalog.Logger{ComponentName: "main"}

func readFile(path string) ([]byte, error) {
	return ioutil.ReadFile(path)
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "(Mandatory) path to configuration file in JSON syntax")
	flag.Parse()

	if configPath == "" {
		logger.Abort("main", nil, "-config is mandatory")
		return
	}
	data, err := readFile(configPath)
	if err != nil {
		logger.Abort("main", err, "failed to read configuration file %q", configPath)
		return
	}
	cfg, err := LoadConfig(data)
	if err != nil {
		logger.Abort("main", err, "failed to parse configuration file %q", configPath)
		return
	}
	if cfg.Listener.SMTPPort == 0 && cfg.Listener.LMTPPort == 0 {
		logger.Abort("main", nil, "at least one of Listener.SMTPPort or Listener.LMTPPort must be non-zero")
		return
	}

	ctx := context.Background()
	comps, err := cfg.buildComponents(ctx, logger)
	if err != nil {
		logger.Abort("main", err, "failed to initialise collaborators")
		return
	}

	tlsConfig, err := cfg.buildTLSConfig()
	if err != nil {
		logger.Abort("main", err, "failed to initialise TLS")
		return
	}

	if comps.configured != nil && cfg.Directory.ReloadIntervalSec > 0 {
		jobs := &common.RecurringJobs{
			IntervalSec:       cfg.Directory.ReloadIntervalSec,
			MaxResults:        16,
			PreConfiguredJobs: []common.Job{newDirectoryReloadJob(configPath, comps.configured)},
		}
		if err := jobs.Initialise(); err != nil {
			logger.Abort("main", err, "failed to initialise directory reload job")
			return
		}
		go jobs.Start()
	}

	daemons := make([]*smtpd.Daemon, 0, 2)
	if cfg.Listener.SMTPPort != 0 {
		daemons = append(daemons, newDaemon(cfg, comps, tlsConfig, "smtp", collab.SMTP, cfg.Listener.SMTPPort))
	}
	if cfg.Listener.LMTPPort != 0 {
		daemons = append(daemons, newDaemon(cfg, comps, tlsConfig, "lmtp", collab.LMTP, cfg.Listener.LMTPPort))
	}

	errChan := make(chan error, len(daemons))
	for _, d := range daemons {
		d.Initialise()
		go func(d *smtpd.Daemon) {
			errChan <- d.StartAndBlock()
		}(d)
	}
	logger.Info("main", nil, "mtasession is now running")
	if err := <-errChan; err != nil {
		logger.Abort("main", err, "a listener terminated unexpectedly")
	}
	os.Exit(1)
}

// newDaemon builds one protocol instance (SMTP or LMTP) sharing the
// collaborators in comps, following the teacher's pattern of constructing
// one Daemon struct per listener out of a single shared Config.
//
// AuthDirectory is always false: collab.CredentialVerifier has no production
// implementation in this engine (§6), so AUTH stays unreachable regardless
// of AuthMechanisms configuration until a verifier is wired in.
func newDaemon(cfg *Config, comps *components, tlsConfig *tls.Config, listenerID string, proto collab.Protocol, port int) *smtpd.Daemon {
	params := cfg.sessionParams(listenerID, proto, tlsConfig != nil, false)
	return &smtpd.Daemon{
		ListenAddr:  cfg.Listener.ListenAddr,
		ListenPort:  port,
		PerIPLimit:  cfg.Listener.PerIPLimit,
		ListenerID:  listenerID,
		Protocol:    proto,
		Params:      params,
		TLSConfig:   tlsConfig,
		Directory:   comps.directory,
		Sieve:       cfg.sieveRuntime(),
		Milter:      comps.milter,
		MTAHook:     comps.mtahook,
		RateLimiter: comps.rateLimiter,
		Evaluator:   comps.evaluator,
		Queue:       comps.queue,
		Metrics:     comps.metrics,
	}
}
