package scanning

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"

	"github.com/anstrom/portscout/internal/errors"
)

const defaultDNSTimeout = 3 * time.Second

// Resolver turns a target name into the single address that will be probed.
type Resolver interface {
	Resolve(ctx context.Context, target string) (string, error)
}

// SystemResolver resolves through the platform resolver. IPv4 addresses win
// over IPv6 when a name has both.
type SystemResolver struct {
	Resolver *net.Resolver
}

// NewSystemResolver creates a resolver backed by net.DefaultResolver.
func NewSystemResolver() *SystemResolver {
	return &SystemResolver{Resolver: net.DefaultResolver}
}

// Resolve implements Resolver.
func (r *SystemResolver) Resolve(ctx context.Context, target string) (string, error) {
	if target == "" {
		return "", errors.NewResolutionError(target, fmt.Errorf("empty target"))
	}
	if ip := net.ParseIP(target); ip != nil {
		return ip.String(), nil
	}

	res := r.Resolver
	if res == nil {
		res = net.DefaultResolver
	}

	if ips, err := res.LookupIP(ctx, "ip4", target); err == nil && len(ips) > 0 {
		return ips[0].String(), nil
	}
	ips, err := res.LookupIP(ctx, "ip", target)
	if err != nil {
		return "", errors.NewResolutionError(target, err)
	}
	if len(ips) == 0 {
		return "", errors.NewResolutionError(target, fmt.Errorf("no addresses found"))
	}
	return ips[0].String(), nil
}

// DNSResolver queries one DNS server directly: an A lookup first, then AAAA.
type DNSResolver struct {
	Server  string
	Timeout time.Duration
	client  *dns.Client
}

// NewDNSResolver creates a resolver for server, given as "host" or
// "host:port". Port 53 is assumed when none is given.
func NewDNSResolver(server string, timeout time.Duration) *DNSResolver {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	if timeout <= 0 {
		timeout = defaultDNSTimeout
	}
	return &DNSResolver{
		Server:  server,
		Timeout: timeout,
		client:  &dns.Client{Net: "udp", Timeout: timeout},
	}
}

// Resolve implements Resolver.
func (r *DNSResolver) Resolve(ctx context.Context, target string) (string, error) {
	if target == "" {
		return "", errors.NewResolutionError(target, fmt.Errorf("empty target"))
	}
	if ip := net.ParseIP(target); ip != nil {
		return ip.String(), nil
	}

	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		ip, err := r.query(ctx, target, qtype)
		if err == nil && ip != "" {
			return ip, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no A or AAAA records")
	}
	return "", errors.NewResolutionError(target, lastErr)
}

func (r *DNSResolver) query(ctx context.Context, target string, qtype uint16) (string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(target), qtype)
	msg.RecursionDesired = true

	client := r.client
	if client == nil {
		timeout := r.Timeout
		if timeout <= 0 {
			timeout = defaultDNSTimeout
		}
		client = &dns.Client{Net: "udp", Timeout: timeout}
	}

	resp, _, err := client.ExchangeContext(ctx, msg, r.Server)
	if err != nil {
		return "", err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("dns server returned %s", dns.RcodeToString[resp.Rcode])
	}

	for _, rr := range resp.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			return rec.A.String(), nil
		case *dns.AAAA:
			return rec.AAAA.String(), nil
		}
	}
	return "", nil
}
