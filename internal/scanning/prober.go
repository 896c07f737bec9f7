package scanning

import (
	"context"
	stderrors "errors"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/anstrom/portscout/internal/errors"
)

// ContextDialer is the subset of net.Dialer used for connection probes.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Prober decides the state of a single TCP port.
type Prober interface {
	Probe(ctx context.Context, address string, port int, timeout time.Duration) PortResult
}

// ProbeObserver is told about every probe that ended in filtered because of
// an error. Closed and open probes are not reported.
type ProbeObserver func(err *errors.ProbeError)

// TCPProber classifies ports with a full TCP connect.
type TCPProber struct {
	Dialer   ContextDialer
	Observer ProbeObserver
}

// NewTCPProber creates a prober that dials with net.Dialer.
func NewTCPProber() *TCPProber {
	return &TCPProber{Dialer: &net.Dialer{}}
}

// Probe implements Prober. The connection, if any, is closed before return.
func (p *TCPProber) Probe(ctx context.Context, address string, port int, timeout time.Duration) PortResult {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := p.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	conn, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err == nil {
		_ = conn.Close()
		return PortResult{Port: port, Status: StatusOpen}
	}

	status, kind := ClassifyDialError(err)
	if kind != "" && p.Observer != nil {
		p.Observer(&errors.ProbeError{Address: address, Port: port, Kind: kind, Cause: err})
	}
	return PortResult{Port: port, Status: status}
}

// ClassifyDialError maps a dial error onto a port status. The kind is empty
// for definitive answers (open, closed) and set for every filtered outcome.
func ClassifyDialError(err error) (PortStatus, errors.ProbeErrorKind) {
	if err == nil {
		return StatusOpen, ""
	}
	if stderrors.Is(err, syscall.ECONNREFUSED) {
		return StatusClosed, ""
	}

	switch {
	case stderrors.Is(err, context.Canceled):
		return StatusFiltered, errors.ProbeKindCanceled
	case stderrors.Is(err, context.DeadlineExceeded), isTimeout(err):
		return StatusFiltered, errors.ProbeKindTimeout
	case isLocalResourceError(err):
		return StatusFiltered, errors.ProbeKindLocal
	case stderrors.Is(err, syscall.EHOSTUNREACH), stderrors.Is(err, syscall.ENETUNREACH):
		return StatusFiltered, errors.ProbeKindUnreachable
	}
	return StatusFiltered, errors.ProbeKindOther
}

// IsLocalProbeError reports whether a probe failure was caused by the
// scanning host rather than the target.
func IsLocalProbeError(err error) bool {
	var pe *errors.ProbeError
	if stderrors.As(err, &pe) {
		return pe.Kind == errors.ProbeKindLocal
	}
	return isLocalResourceError(err)
}

func isTimeout(err error) bool {
	var ne net.Error
	return stderrors.As(err, &ne) && ne.Timeout()
}

func isLocalResourceError(err error) bool {
	for _, errno := range []syscall.Errno{syscall.EMFILE, syscall.ENFILE, syscall.EADDRNOTAVAIL, syscall.ENOBUFS} {
		if stderrors.Is(err, errno) {
			return true
		}
	}
	return false
}
