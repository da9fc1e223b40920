// Config deserialisation follows the teacher's launcher/config.go shape: a
// single JSON document unmarshalled into nested per-concern structs, each
// with a Get<X> constructor that initialises and wires its corresponding
// runtime component.
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/relaydog/mtasession/awsinteg"
	"github.com/relaydog/mtasession/daemon/common"
	"github.com/relaydog/mtasession/daemon/smtpd/collab"
	"github.com/relaydog/mtasession/daemon/smtpd/directory"
	"github.com/relaydog/mtasession/daemon/smtpd/expr"
	"github.com/relaydog/mtasession/daemon/smtpd/metrics"
	"github.com/relaydog/mtasession/daemon/smtpd/milter"
	"github.com/relaydog/mtasession/daemon/smtpd/mtahook"
	"github.com/relaydog/mtasession/daemon/smtpd/policy"
	"github.com/relaydog/mtasession/daemon/smtpd/queue"
	"github.com/relaydog/mtasession/daemon/smtpd/ratelimit"
	"github.com/relaydog/mtasession/daemon/smtpd/session"
	"github.com/relaydog/mtasession/daemon/smtpd/sieve"
	"github.com/relaydog/mtasession/inet"
	"github.com/relaydog/mtasession/lalog"
	"github.com/prometheus/client_golang/prometheus"
)

// ListenerConfig is the common network/session configuration shared by the
// SMTP and LMTP front-ends.
type ListenerConfig struct {
	ListenAddr string `json:"ListenAddr"`
	SMTPPort   int    `json:"SMTPPort"` // 0 disables the SMTP front-end
	LMTPPort   int    `json:"LMTPPort"` // 0 disables the LMTP front-end
	PerIPLimit int    `json:"PerIPLimit"`

	MaxRecipients  int   `json:"MaxRecipients"`
	MaxMessageSize int64 `json:"MaxMessageSize"`
	MaxLineLength  int   `json:"MaxLineLength"`

	RcptErrorsMax     int `json:"RcptErrorsMax"`
	RcptErrorsWaitSec int `json:"RcptErrorsWaitSec"`

	AuthMechanisms []string `json:"AuthMechanisms"`

	TLSCertPath string `json:"TLSCertPath"`
	TLSKeyPath  string `json:"TLSKeyPath"`
}

// DirectoryConfig selects and configures the Directory collaborator (§6).
type DirectoryConfig struct {
	Mode      string   `json:"Mode"` // "configured" or "dns"
	Domains   []string `json:"Domains"`
	Addresses []string `json:"Addresses"`

	DNSServer string   `json:"DNSServer"`
	MXNames   []string `json:"MXNames"`
	TimeoutSec int     `json:"TimeoutSec"`

	// ReloadIntervalSec, when positive, refreshes a "configured" directory's
	// domain/address tables from this same file at regular interval without
	// restarting the listener (daemon/common.RecurringJobs).
	ReloadIntervalSec int `json:"ReloadIntervalSec"`
}

// QueueConfig selects and configures the Queue collaborator (§6).
type QueueConfig struct {
	Mode string `json:"Mode"` // "s3" or "relay"

	S3Bucket    string `json:"S3Bucket"`
	S3KeyPrefix string `json:"S3KeyPrefix"`

	RelayHost string `json:"RelayHost"`
	RelayPort int    `json:"RelayPort"`
}

// FilterConfig configures the optional gRPC milter/MTA-hook collaborators.
type FilterConfig struct {
	Address    string `json:"Address"` // empty disables the filter
	TLS        bool   `json:"TLS"`
	TimeoutSec int    `json:"TimeoutSec"`
}

// RateLimitConfig configures the per-session rate limiter.
type RateLimitConfig struct {
	UnitSecs int64 `json:"UnitSecs"`
	MaxCount int   `json:"MaxCount"`
}

// Config is the top-level, JSON-decoded program configuration.
type Config struct {
	Listener  ListenerConfig    `json:"Listener"`
	Directory DirectoryConfig   `json:"Directory"`
	Queue     QueueConfig       `json:"Queue"`
	Milter    FilterConfig      `json:"Milter"`
	MTAHook   FilterConfig      `json:"MTAHook"`
	RateLimit RateLimitConfig   `json:"RateLimit"`
	Sieve     []sieve.Rule      `json:"Sieve"`
	Expr      expr.Table        `json:"Expr"`
	Policy    policy.Params     `json:"Policy"`
}

// LoadConfig deserialises the JSON configuration document in data.
func LoadConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse JSON: %w", err)
	}
	return &cfg, nil
}

// components bundles the collaborators constructed once and shared by every
// listener the program starts (SMTP and LMTP alike), mirroring the way the
// teacher's Config shares a single MailClient/RateLimit across daemons.
type components struct {
	directory   collab.Directory
	configured  *directory.ConfiguredDirectory // non-nil only in "configured" mode, for the reload job
	milter      collab.MilterClient
	mtahook     collab.MTAHookClient
	rateLimiter collab.RateLimiter
	evaluator   collab.ExpressionEvaluator
	queue       collab.Queue
	metrics     *metrics.Collector
}

// buildComponents constructs every collaborator adapter named in Component I
// from cfg, dialling the optional gRPC filters with a background context
// since they must be reachable before the first connection is accepted.
func (cfg *Config) buildComponents(ctx context.Context, logger lalog.Logger) (*components, error) {
	c := &components{metrics: metrics.NewCollector(prometheus.NewRegistry())}

	switch cfg.Directory.Mode {
	case "dns":
		timeout := time.Duration(cfg.Directory.TimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		c.directory = directory.NewDNSDirectory(cfg.Directory.DNSServer, cfg.Directory.MXNames, timeout)
	default:
		configured := directory.NewConfiguredDirectory(cfg.Directory.Domains, cfg.Directory.Addresses)
		c.configured = configured
		c.directory = configured
	}

	if cfg.Milter.Address != "" {
		timeout := time.Duration(cfg.Milter.TimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = 3 * time.Second
		}
		client, err := milter.Dial(ctx, cfg.Milter.Address, cfg.Milter.TLS, timeout)
		if err != nil {
			return nil, fmt.Errorf("config: failed to dial milter at %q: %w", cfg.Milter.Address, err)
		}
		c.milter = client
	}

	if cfg.MTAHook.Address != "" {
		timeout := time.Duration(cfg.MTAHook.TimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = 3 * time.Second
		}
		client, err := mtahook.Dial(ctx, cfg.MTAHook.Address, cfg.MTAHook.TLS, timeout)
		if err != nil {
			return nil, fmt.Errorf("config: failed to dial MTA hook at %q: %w", cfg.MTAHook.Address, err)
		}
		c.mtahook = client
	}

	unitSecs := cfg.RateLimit.UnitSecs
	if unitSecs <= 0 {
		unitSecs = 10
	}
	maxCount := cfg.RateLimit.MaxCount
	if maxCount <= 0 {
		maxCount = 50
	}
	c.rateLimiter = ratelimit.New(unitSecs, maxCount, logger)

	exprTable := cfg.Expr
	c.evaluator = &exprTable

	switch cfg.Queue.Mode {
	case "s3":
		s3Client, err := awsinteg.NewS3Client()
		if err != nil {
			return nil, fmt.Errorf("config: failed to initialise S3 client: %w", err)
		}
		c.queue = &queue.S3Queue{Client: s3Client, BucketName: cfg.Queue.S3Bucket, KeyPrefix: cfg.Queue.S3KeyPrefix, Logger: logger}
	default:
		c.queue = &queue.RelayQueue{Client: &inet.MailClient{MTAHost: cfg.Queue.RelayHost, MTAPort: cfg.Queue.RelayPort}}
	}

	return c, nil
}

// sieveRuntime builds the Sieve collaborator from the configured rule table;
// an empty table still satisfies collab.SieveRuntime by resolving every
// script to SievePass (§6).
func (cfg *Config) sieveRuntime() collab.SieveRuntime {
	return &sieve.RuleRuntime{Rules: cfg.Sieve}
}

// sessionParams derives the immutable session.Params shared by every
// connection accepted on listenerID/proto.
func (cfg *Config) sessionParams(listenerID string, proto collab.Protocol, tlsAvailable bool, authDirectory bool) session.Params {
	rcptWait := time.Duration(cfg.Listener.RcptErrorsWaitSec) * time.Second
	return session.Params{
		ListenerID:     listenerID,
		Protocol:       proto,
		MaxRecipients:  cfg.Listener.MaxRecipients,
		MaxMessageSize: cfg.Listener.MaxMessageSize,
		MaxLineLength:  cfg.Listener.MaxLineLength,
		DSNEnabled:     cfg.Policy.DSNEnabled,
		RcptErrorsMax:  cfg.Listener.RcptErrorsMax,
		RcptErrorsWait: rcptWait,
		AuthMechanisms: cfg.Listener.AuthMechanisms,
		AuthDirectory:  authDirectory,
		TLSAvailable:   tlsAvailable,
		DirectoryExpr:  cfg.Policy.DirectoryExpr,
		RewriteExpr:    cfg.Policy.RewriteExpr,
		SieveExpr:      cfg.Policy.SieveExpr,
		RelayExpr:      cfg.Policy.RelayExpr,
	}
}

// buildTLSConfig loads the certificate/key pair named in the listener
// configuration, if any; a nil result simply means STARTTLS is never
// advertised (session.Params.TLSAvailable stays false).
func (cfg *Config) buildTLSConfig() (*tls.Config, error) {
	if cfg.Listener.TLSCertPath == "" || cfg.Listener.TLSKeyPath == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.Listener.TLSCertPath, cfg.Listener.TLSKeyPath)
	if err != nil {
		return nil, fmt.Errorf("config: failed to load TLS certificate: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// newDirectoryReloadJob builds the recurring job that re-reads domain and
// address lists from configPath and swaps them into a ConfiguredDirectory,
// adapting daemon/common.RecurringJobs (itself adapted from the teacher's
// toolbox-driven RecurringCommands) to this engine's own refresh need.
func newDirectoryReloadJob(configPath string, configured *directory.ConfiguredDirectory) common.Job {
	return common.Job{
		Name: "directory-reload",
		Run: func(ctx context.Context) (string, error) {
			data, err := readFile(configPath)
			if err != nil {
				return "", err
			}
			cfg, err := LoadConfig(data)
			if err != nil {
				return "", err
			}
			configured.Reload(cfg.Directory.Domains, cfg.Directory.Addresses)
			return fmt.Sprintf("reloaded %d domains, %d addresses", len(cfg.Directory.Domains), len(cfg.Directory.Addresses)), nil
		},
	}
}
