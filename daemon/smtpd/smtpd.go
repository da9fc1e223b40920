// Package smtpd owns the Daemon/Listener (Component H of the expanded
// spec): a daemon/common.TCPServer bound to a fresh session.Session per
// accepted connection, wiring every collaborator adapter (directory, milter,
// MTA-hook, sieve, queue, rate limiter, expression evaluator, metrics) into
// the session engine and driving its read loop, including the STARTTLS
// hand-off described in §5/§9.
package smtpd

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/relaydog/mtasession/daemon/common"
	"github.com/relaydog/mtasession/daemon/smtpd/collab"
	"github.com/relaydog/mtasession/daemon/smtpd/metrics"
	"github.com/relaydog/mtasession/daemon/smtpd/session"
	"github.com/relaydog/mtasession/lalog"
	"github.com/relaydog/mtasession/misc"
)

// Daemon owns the TCP listener for one protocol instance (SMTP or LMTP) and
// constructs a session.Session for every accepted connection, exactly as
// the teacher's daemon/smtpd.Daemon owns its own conversation loop on top of
// daemon/common.TCPServer.
type Daemon struct {
	// ListenAddr/ListenPort/PerIPLimit configure the underlying TCPServer.
	ListenAddr  string
	ListenPort  int
	PerIPLimit  int
	ListenerID  string
	Protocol    collab.Protocol

	Params session.Params

	// TLSConfig, if non-nil, is used both to decide whether STARTTLS is
	// advertised (session.Params.TLSAvailable must independently be set
	// true) and to perform the handshake on a successful STARTTLS.
	TLSConfig *tls.Config

	Directory   collab.Directory
	Sieve       collab.SieveRuntime
	Milter      collab.MilterClient
	MTAHook     collab.MTAHookClient
	RateLimiter collab.RateLimiter
	Evaluator   collab.ExpressionEvaluator
	Queue       collab.Queue
	Credentials collab.CredentialVerifier
	Metrics     *metrics.Collector

	// ReadTimeout bounds each individual socket read; it defaults to
	// common.ServerDefaultIOTimeoutSec when zero.
	ReadTimeout time.Duration

	stats *misc.Stats
	tcp   *common.TCPServer
}

// Initialise prepares the underlying TCPServer. Call it once before
// StartAndBlock.
func (daemon *Daemon) Initialise() {
	daemon.stats = misc.NewStats()
	appName := "smtpd"
	if daemon.Protocol == collab.LMTP {
		appName = "lmtpd"
	}
	daemon.tcp = common.NewTCPServer(daemon.ListenAddr, daemon.ListenPort, appName, daemon, daemon.PerIPLimit)
}

// StartAndBlock runs the accept loop until Stop is called or the listener
// fails.
func (daemon *Daemon) StartAndBlock() error {
	return daemon.tcp.StartAndBlock()
}

// Stop shuts the listener down; connections already in progress are left to
// finish on their own.
func (daemon *Daemon) Stop() {
	daemon.tcp.Stop()
}

// GetTCPStatsCollector implements common.TCPApp.
func (daemon *Daemon) GetTCPStatsCollector() *misc.Stats {
	return daemon.stats
}

// connTransport adapts a net.Conn to session.Transport, collapsing any read
// or write error into the single failure signal the façade (§4.G)
// specifies.
type connTransport struct {
	conn net.Conn
}

func (t *connTransport) Write(p []byte) error {
	_, err := t.conn.Write(p)
	return err
}

func (t *connTransport) Read(p []byte) (int, error) {
	return t.conn.Read(p)
}

// HandleTCPConnection implements common.TCPApp: it is the Daemon's per-
// connection entry point, launched by TCPServer in its own goroutine.
func (daemon *Daemon) HandleTCPConnection(logger lalog.Logger, clientIP string, conn *net.TCPConn) {
	if IsClientIPBlacklisted(clientIP) {
		logger.Warning(clientIP, nil, "refusing connection from blacklisted IP")
		return
	}

	localAddr, _ := conn.LocalAddr().(*net.TCPAddr)
	remoteAddr, _ := conn.RemoteAddr().(*net.TCPAddr)
	sessionID := fmt.Sprintf("%s-%s-%d", daemon.ListenerID, clientIP, time.Now().UnixNano())

	var netConn net.Conn = conn
	sess := session.New(daemon.Params, sessionID)
	sess.RemoteIP = clientIP
	sess.Out = &connTransport{conn: netConn}
	sess.Logger = logger
	sess.Directory = daemon.Directory
	sess.Sieve = daemon.Sieve
	sess.Milter = daemon.Milter
	sess.MTAHook = daemon.MTAHook
	sess.RateLimiter = daemon.RateLimiter
	sess.Evaluator = daemon.Evaluator
	sess.Queue = daemon.Queue
	sess.Credentials = daemon.Credentials
	sess.Metrics = daemon.Metrics
	if remoteAddr != nil {
		sess.RemotePort = remoteAddr.Port
	}
	if localAddr != nil {
		sess.LocalIP = localAddr.IP.String()
		sess.LocalPort = localAddr.Port
	}

	ctx := context.Background()
	readTimeout := daemon.ReadTimeout
	if readTimeout == 0 {
		readTimeout = common.ServerDefaultIOTimeoutSec * time.Second
	}

	buf := make([]byte, 64*1024)
	for {
		if err := netConn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			logger.Warning(sessionID, err, "failed to extend read deadline")
			return
		}
		n, err := netConn.Read(buf)
		if err != nil {
			return
		}
		result, err := sess.Ingest(ctx, buf[:n])
		if err != nil {
			logger.Info(sessionID, err, "session terminated")
			return
		}
		switch result {
		case session.ResultDisconnect:
			return
		case session.ResultTLSHandover:
			if daemon.TLSConfig == nil {
				logger.Warning(sessionID, nil, "STARTTLS accepted but no TLS configuration available, disconnecting")
				return
			}
			tlsConn := tls.Server(netConn, daemon.TLSConfig)
			hctx, cancel := context.WithTimeout(ctx, readTimeout)
			handshakeErr := tlsConn.HandshakeContext(hctx)
			cancel()
			if handshakeErr != nil {
				logger.Warning(sessionID, handshakeErr, "TLS handshake failed")
				return
			}
			// Any bytes pipelined alongside STARTTLS in the same plaintext
			// read were already discarded by Ingest returning immediately
			// on ResultTLSHandover (§5, §9): only bytes read from tlsConn
			// from here on are ever dispatched.
			netConn = tlsConn
			sess.InTLS = true
			sess.Out = &connTransport{conn: netConn}
		}
	}
}
