package scanning

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anstrom/portscout/internal/errors"
)

// startServer listens on a loopback port and writes payload to every
// accepted connection. A nil payload keeps connections open and silent.
func startServer(t *testing.T, payload []byte) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			if payload == nil {
				mu.Lock()
				conns = append(conns, conn)
				mu.Unlock()
				continue
			}
			go func(c net.Conn) {
				defer c.Close()
				_, _ = c.Write(payload)
				time.Sleep(50 * time.Millisecond)
			}(conn)
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

// freePort returns a loopback port that nothing is listening on.
func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// blackholeDialer never completes a connection; it waits for the context.
type blackholeDialer struct{}

func (blackholeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	<-ctx.Done()
	return nil, &net.OpError{Op: "dial", Net: network, Err: ctx.Err()}
}

// errorDialer fails every dial with err.
type errorDialer struct{ err error }

func (d errorDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return nil, d.err
}

type staticResolver struct {
	address string
	err     error
}

func (r staticResolver) Resolve(ctx context.Context, target string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return r.address, nil
}

// fakeProber answers from a fixed table. Ports not in the table are filtered.
type fakeProber struct {
	states  map[int]PortStatus
	panicOn map[int]bool
	delay   time.Duration

	calls    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

func (p *fakeProber) Probe(ctx context.Context, address string, port int, timeout time.Duration) PortResult {
	p.calls.Add(1)
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.panicOn[port] {
		panic("probe exploded")
	}
	status, ok := p.states[port]
	if !ok {
		status = StatusFiltered
	}
	return PortResult{Port: port, Status: status}
}

// fakeBanners returns canned banners and remembers which ports were asked.
type fakeBanners struct {
	banners map[int]string

	mu    sync.Mutex
	asked []int
}

func (b *fakeBanners) ReadBanner(ctx context.Context, address string, port int, timeout time.Duration) *string {
	b.mu.Lock()
	b.asked = append(b.asked, port)
	b.mu.Unlock()

	if text, ok := b.banners[port]; ok {
		return &text
	}
	return nil
}

func (b *fakeBanners) askedPorts() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]int, len(b.asked))
	copy(out, b.asked)
	return out
}

var errUnresolvable = errors.NewResolutionError("nowhere.invalid", context.DeadlineExceeded)
