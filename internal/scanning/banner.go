package scanning

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/anstrom/portscout/internal/errors"
)

const (
	// DefaultBannerMaxBytes is the read budget for a banner.
	DefaultBannerMaxBytes = 1024

	// DefaultBannerTimeout bounds both the banner connect and the read.
	DefaultBannerTimeout = 2 * time.Second
)

// BannerReader makes one best-effort attempt to read a service greeting.
type BannerReader interface {
	ReadBanner(ctx context.Context, address string, port int, timeout time.Duration) *string
}

// TCPBannerReader opens a fresh connection and performs a single read.
type TCPBannerReader struct {
	Dialer   ContextDialer
	MaxBytes int
	// OnError, if set, receives the reason a read produced no banner.
	OnError func(err *errors.BannerError)
}

// NewTCPBannerReader creates a reader with the default byte budget.
func NewTCPBannerReader() *TCPBannerReader {
	return &TCPBannerReader{Dialer: &net.Dialer{}, MaxBytes: DefaultBannerMaxBytes}
}

// ReadBanner implements BannerReader. It returns nil on any failure, on
// timeout, and when the peer sent nothing but whitespace.
func (b *TCPBannerReader) ReadBanner(ctx context.Context, address string, port int, timeout time.Duration) *string {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := b.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	conn, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		b.fail(address, port, err)
		return nil
	}
	defer func() { _ = conn.Close() }()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		b.fail(address, port, err)
		return nil
	}

	maxBytes := b.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultBannerMaxBytes
	}
	buf := make([]byte, maxBytes)
	n, err := conn.Read(buf)
	if n == 0 {
		if err != nil {
			b.fail(address, port, err)
		}
		return nil
	}

	return decodeBanner(buf[:n])
}

func (b *TCPBannerReader) fail(address string, port int, err error) {
	if b.OnError != nil {
		b.OnError(&errors.BannerError{Address: address, Port: port, Cause: err})
	}
}

// decodeBanner replaces invalid UTF-8 and trims surrounding whitespace.
func decodeBanner(raw []byte) *string {
	text := strings.TrimSpace(strings.ToValidUTF8(string(raw), "�"))
	if text == "" {
		return nil
	}
	return &text
}
