package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// ErrBlocked is returned for URLs and addresses the prober must not contact.
var ErrBlocked = errors.New("destination not allowed")

// IsBlocked reports whether err was caused by the guard.
func IsBlocked(err error) bool {
	return errors.Is(err, ErrBlocked)
}

var blockedHosts = map[string]struct{}{
	"localhost":                {},
	"0.0.0.0":                  {},
	"metadata":                 {},
	"metadata.google.internal": {},
	"169.254.169.254":          {},
	"fd00:ec2::254":            {},
}

var blockedSuffixes = []string{".localhost", ".internal"}

// Ranges not covered by the netip.Addr predicates.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("64:ff9b::/96"),
}

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Guard decides which destinations the prober may reach. It checks URLs
// before a request, resolved addresses before dialing, and the connected
// address at dial time.
type Guard struct {
	allow    []netip.Prefix
	resolver Resolver
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithAllowedPrefixes exempts the given ranges from the address checks.
// Hostname blocklist entries stay blocked.
func WithAllowedPrefixes(prefixes ...netip.Prefix) GuardOption {
	return func(g *Guard) {
		g.allow = append(g.allow, prefixes...)
	}
}

// WithResolver replaces the DNS resolver.
func WithResolver(r Resolver) GuardOption {
	return func(g *Guard) {
		g.resolver = r
	}
}

// NewGuard creates a guard.
func NewGuard(opts ...GuardOption) *Guard {
	g := &Guard{resolver: net.DefaultResolver}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var defaultGuard = NewGuard()

// ValidateURL checks a URL with the default guard. It does not resolve DNS.
func ValidateURL(raw string) error {
	_, err := defaultGuard.ValidateURL(raw)
	return err
}

// ValidateURL parses raw and rejects it unless the scheme is http or https and
// the host is neither on the blocklist nor a literal address in a blocked range.
func (g *Guard) ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: unparsable url", ErrBlocked)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrBlocked, u.Scheme)
	}
	if u.User != nil {
		return nil, fmt.Errorf("%w: credentials in url", ErrBlocked)
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrBlocked)
	}
	if _, ok := blockedHosts[host]; ok {
		return nil, fmt.Errorf("%w: host %q", ErrBlocked, host)
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(host, suffix) {
			return nil, fmt.Errorf("%w: host %q", ErrBlocked, host)
		}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if err := g.CheckAddr(addr); err != nil {
			return nil, err
		}
	}

	return u, nil
}

// CheckHost resolves host and rejects it if any address is blocked.
// Literal addresses are checked without a lookup.
func (g *Guard) CheckHost(ctx context.Context, host string) error {
	if addr, err := netip.ParseAddr(host); err == nil {
		return g.CheckAddr(addr)
	}

	addrs, err := g.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return fmt.Errorf("resolve host: %w", err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("resolve host: no addresses")
	}
	for _, addr := range addrs {
		if err := g.CheckAddr(addr); err != nil {
			return err
		}
	}
	return nil
}

// CheckAddr rejects loopback, link-local, private, unspecified, multicast
// and other non-public addresses.
func (g *Guard) CheckAddr(addr netip.Addr) error {
	addr = addr.Unmap()
	for _, p := range g.allow {
		if p.Contains(addr) {
			return nil
		}
	}

	if !addr.IsValid() ||
		addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() {
		return fmt.Errorf("%w: address %s", ErrBlocked, addr)
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return fmt.Errorf("%w: address %s", ErrBlocked, addr)
		}
	}
	return nil
}

// control runs after the socket is created and before it connects, so the
// address checked is the one actually dialed.
func (g *Guard) control(_, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: dial address %q", ErrBlocked, address)
	}
	return g.CheckAddr(ap.Addr())
}

// Dialer returns a dialer that refuses blocked addresses at connect time.
func (g *Guard) Dialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
		Control:   g.control,
	}
}
