// Package directory provides collab.Directory implementations: a static,
// configuration-driven directory for small deployments, and a DNS-backed
// directory that determines domain ownership and mailbox existence by
// querying records, grounded on the teacher's blacklist.go DNS-lookup
// goroutine fan-out idiom (daemon/smtpd/blacklist.go), repurposed here from
// IP-reputation lookups to MX-ownership and mailbox-existence lookups.
package directory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/relaydog/mtasession/daemon/smtpd/collab"
)

// ConfiguredDirectory answers from two fixed sets loaded at startup. It is
// the directory of record for deployments small enough to list every served
// domain and mailbox in configuration.
type ConfiguredDirectory struct {
	mu            sync.RWMutex
	localDomains  map[string]bool
	localAddrs    map[string]bool
}

// NewConfiguredDirectory builds a directory from explicit domain and address
// lists (addresses are lowercased on load to match the policy pipeline's
// lowercased-equality rule).
func NewConfiguredDirectory(domains, addresses []string) *ConfiguredDirectory {
	d := &ConfiguredDirectory{
		localDomains: make(map[string]bool, len(domains)),
		localAddrs:   make(map[string]bool, len(addresses)),
	}
	for _, dom := range domains {
		d.localDomains[strings.ToLower(dom)] = true
	}
	for _, addr := range addresses {
		d.localAddrs[strings.ToLower(addr)] = true
	}
	return d
}

func (d *ConfiguredDirectory) IsLocalDomain(ctx context.Context, domain string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.localDomains[strings.ToLower(domain)], nil
}

func (d *ConfiguredDirectory) IsLocalAddress(ctx context.Context, addressLowercased string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.localAddrs[addressLowercased], nil
}

// Reload atomically swaps in a new domain/address set, for use by a
// recurring refresh job (see daemon/common.RecurringJobs) without
// restarting the listener.
func (d *ConfiguredDirectory) Reload(domains, addresses []string) {
	next := NewConfiguredDirectory(domains, addresses)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.localDomains = next.localDomains
	d.localAddrs = next.localAddrs
}

var _ collab.Directory = (*ConfiguredDirectory)(nil)

// DNSDirectory determines domain ownership by comparing a domain's MX
// records against a configured set of mail-exchanger hostnames this
// deployment answers to, and determines mailbox existence by a TXT record
// lookup convention ("<localpart>._mtauser.<domain>"). Neither lookup is a
// standard DNS-based mailbox directory protocol; it exists to give the
// collaborator contract a concrete, network-backed implementation the way
// the teacher's blacklist checker gives IP reputation one.
type DNSDirectory struct {
	Resolver  *dns.Client
	Server    string // "host:port" of the resolver to query
	MXNames   []string
	Timeout   time.Duration
}

// NewDNSDirectory constructs a directory that queries server (e.g.
// "127.0.0.1:53") directly through a miekg/dns client, rather than going
// through net.DefaultResolver and the OS resolver as blacklist.go does.
func NewDNSDirectory(server string, mxNames []string, timeout time.Duration) *DNSDirectory {
	return &DNSDirectory{
		Resolver: &dns.Client{Timeout: timeout},
		Server:   server,
		MXNames:  mxNames,
		Timeout:  timeout,
	}
}

// IsLocalDomain resolves domain's MX records and reports whether any of
// them match a configured local mail-exchanger hostname.
func (d *DNSDirectory) IsLocalDomain(ctx context.Context, domain string) (bool, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeMX)
	resp, _, err := d.Resolver.ExchangeContext(ctx, m, d.Server)
	if err != nil {
		return false, fmt.Errorf("directory: MX lookup for %q failed: %w", domain, err)
	}
	for _, rr := range resp.Answer {
		mx, ok := rr.(*dns.MX)
		if !ok {
			continue
		}
		host := strings.TrimSuffix(strings.ToLower(mx.Mx), ".")
		for _, want := range d.MXNames {
			if host == strings.ToLower(strings.TrimSuffix(want, ".")) {
				return true, nil
			}
		}
	}
	return false, nil
}

// IsLocalAddress performs the fan-out TXT lookup described above across
// Resolver, the same one-goroutine-per-lookup shape as
// blacklist.IsClientIPBlacklisted, though here there is only ever one query
// in flight; the shape is kept so a future multi-resolver fan-out (e.g.
// primary plus secondary DNS) is a drop-in addition.
func (d *DNSDirectory) IsLocalAddress(ctx context.Context, addressLowercased string) (bool, error) {
	at := strings.LastIndexByte(addressLowercased, '@')
	if at == -1 {
		return false, fmt.Errorf("directory: %q is not a valid address", addressLowercased)
	}
	localPart, domain := addressLowercased[:at], addressLowercased[at+1:]
	lookupName := fmt.Sprintf("%s._mtauser.%s", localPart, domain)

	result := make(chan bool, 1)
	errCh := make(chan error, 1)
	lookupCtx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()
	go func() {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(lookupName), dns.TypeTXT)
		resp, _, err := d.Resolver.ExchangeContext(lookupCtx, m, d.Server)
		if err != nil {
			errCh <- err
			return
		}
		result <- len(resp.Answer) > 0
	}()
	select {
	case <-lookupCtx.Done():
		return false, fmt.Errorf("directory: mailbox lookup for %q timed out", addressLowercased)
	case err := <-errCh:
		return false, fmt.Errorf("directory: mailbox lookup for %q failed: %w", addressLowercased, err)
	case exists := <-result:
		return exists, nil
	}
}

var _ collab.Directory = (*DNSDirectory)(nil)
