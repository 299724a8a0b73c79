// Package egress validates outbound webhook destinations before any socket
// is opened, blocking URLs that resolve to internal infrastructure.
package egress

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Denial reasons surfaced to callers. The dispatcher only needs allow/deny,
// but logs carry the specific cause.
var (
	ErrSchemeNotAllowed = errors.New("egress: only http and https destinations are allowed")
	ErrEmptyHost        = errors.New("egress: destination host is empty")
	ErrResolveFailed    = errors.New("egress: destination host did not resolve")
	ErrForbiddenAddress = errors.New("egress: destination resolves to a forbidden address")
)

// LookupFunc resolves a hostname to its addresses. Injected so tests can
// avoid real DNS.
type LookupFunc func(ctx context.Context, host string) ([]net.IP, error)

// Config wires a Guard.
type Config struct {
	// LookupIP overrides DNS resolution; defaults to net.DefaultResolver.
	LookupIP LookupFunc
	// SelfAddrs are the gateway's own interface addresses. Destinations
	// resolving to any of them are denied. When nil the local interfaces
	// are enumerated at construction time.
	SelfAddrs []net.IP
}

// Guard decides whether an outbound destination URL may be called.
// Resolution happens at dispatch time, not registration time, so a public
// hostname later re-pointed at an internal address is still caught.
type Guard struct {
	lookup    LookupFunc
	selfAddrs map[string]struct{}
}

// NewGuard builds a Guard from cfg.
func NewGuard(cfg Config) *Guard {
	lookup := cfg.LookupIP
	if lookup == nil {
		lookup = func(ctx context.Context, host string) ([]net.IP, error) {
			addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, err
			}
			ips := make([]net.IP, 0, len(addrs))
			for _, addr := range addrs {
				ips = append(ips, addr.IP)
			}
			return ips, nil
		}
	}

	self := cfg.SelfAddrs
	if self == nil {
		self = localInterfaceAddrs()
	}
	selfSet := make(map[string]struct{}, len(self))
	for _, ip := range self {
		selfSet[ip.String()] = struct{}{}
	}

	return &Guard{lookup: lookup, selfAddrs: selfSet}
}

// Check returns nil when rawURL is a permitted destination, or a denial
// error describing why it is not.
func (g *Guard) Check(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("egress: parse destination: %w", err)
	}

	switch parsed.Scheme {
	case "http", "https":
	default:
		return ErrSchemeNotAllowed
	}

	host := parsed.Hostname()
	if host == "" {
		return ErrEmptyHost
	}

	var ips []net.IP
	if literal := net.ParseIP(host); literal != nil {
		ips = []net.IP{literal}
	} else {
		resolved, lookupErr := g.lookup(ctx, host)
		if lookupErr != nil || len(resolved) == 0 {
			return ErrResolveFailed
		}
		ips = resolved
	}

	// Every resolved address must be acceptable; a single internal A record
	// poisons the whole destination.
	for _, ip := range ips {
		if g.forbidden(ip) {
			return ErrForbiddenAddress
		}
	}

	return nil
}

func (g *Guard) forbidden(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
		return true
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	_, own := g.selfAddrs[ip.String()]
	return own
}

func localInterfaceAddrs() []net.IP {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok {
			ips = append(ips, ipNet.IP)
		}
	}
	return ips
}
