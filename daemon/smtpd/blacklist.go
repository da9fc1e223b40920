package smtpd

import (
	"context"
	"fmt"
	"net"
	"time"
)

// SpamBlacklistLookupServers lists DNS-based blacklist look-up domains
// consulted before a connecting client is ever handed to a Session. Each
// domain offers the standard reversed-octet look-up convention: appending a
// suspect IPv4 address's reversed octets to the domain (e.g. resolving
// "4.3.2.1.domain.net" to check the reputation of 1.2.3.4) and treating a
// successful A-record resolution as "this IP is known to send spam".
var SpamBlacklistLookupServers = []string{"dnsbl.sorbs.net", "bl.spamcop.net"}

// GetBlacklistLookupName builds the reversed-octet DNS name used to query
// blLookupDomain about suspectIP.
func GetBlacklistLookupName(suspectIP, blLookupDomain string) (string, error) {
	suspectIPv4 := net.ParseIP(suspectIP).To4()
	if suspectIPv4 == nil || len(suspectIPv4) < 4 {
		return "", fmt.Errorf("GetBlacklistLookupName: suspect IP %s does not appear to be a valid IPv4 address", suspectIP)
	}
	return fmt.Sprintf("%d.%d.%d.%d.%s", suspectIPv4[3], suspectIPv4[2], suspectIPv4[1], suspectIPv4[0], blLookupDomain), nil
}

// IsClientIPBlacklisted fans out one DNS look-up per configured blacklist
// server and reports true the instant any of them resolves, within a fixed
// one-second budget. It is consulted by the Daemon (Component H) before a
// connection ever reaches a Session: blacklisted clients are refused before
// the protocol engine spends a single byte on them, separate from and prior
// to the rate limit and recipient policy pipeline the session itself
// enforces once a connection is admitted.
func IsClientIPBlacklisted(suspectIP string) bool {
	blacklisted := make(chan bool, len(SpamBlacklistLookupServers))
	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer timeoutCancel()
	for _, lookupDomain := range SpamBlacklistLookupServers {
		go func(lookupDomain string) {
			lookupName, err := GetBlacklistLookupName(suspectIP, lookupDomain)
			if err != nil {
				// Cannot possibly blacklist an invalid client IP.
				blacklisted <- false
				return
			}
			_, err = net.DefaultResolver.LookupIPAddr(timeoutCtx, lookupName)
			// Successful DNS resolution means the client IP is in blacklist.
			blacklisted <- err == nil
		}(lookupDomain)
	}
	for range SpamBlacklistLookupServers {
		select {
		case <-timeoutCtx.Done():
			return false
		case ret := <-blacklisted:
			if ret {
				return true
			}
		}
	}
	return false
}
