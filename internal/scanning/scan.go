package scanning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anstrom/portscout/internal/errors"
	"github.com/anstrom/portscout/internal/logging"
	"github.com/anstrom/portscout/internal/metrics"
)

const (
	// DefaultTimeout is the per-port connect timeout.
	DefaultTimeout = 600 * time.Millisecond

	// DefaultConcurrency is the number of ports probed at once.
	DefaultConcurrency = 200

	// DefaultProgressInterval is how many completions pass between progress
	// notifications.
	DefaultProgressInterval = 50
)

// Coordinator runs scans: it resolves the target once, fans the ports out
// over a bounded set of slots and assembles the summary.
type Coordinator struct {
	Resolver Resolver
	Prober   Prober
	Banners  BannerReader

	// Progress, if set, is called with (done, total) every ProgressInterval
	// completions and after the last one. It runs on the collector goroutine.
	Progress         ProgressFunc
	ProgressInterval int

	// Started, if set, receives the resolved address.
	Started StartFunc

	Logger  *logging.Logger
	Metrics *metrics.PrometheusMetrics
}

// CoordinatorOptions configures NewCoordinator. Zero values select defaults.
type CoordinatorOptions struct {
	DNSServer        string
	BannerMaxBytes   int
	ProgressInterval int
	Progress         ProgressFunc
	Started          StartFunc
	Logger           *logging.Logger
	Metrics          *metrics.PrometheusMetrics
}

// NewCoordinator wires the TCP prober, banner reader and resolver together.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	c := &Coordinator{
		Progress:         opts.Progress,
		ProgressInterval: opts.ProgressInterval,
		Started:          opts.Started,
		Logger:           opts.Logger,
		Metrics:          opts.Metrics,
	}
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
	c.Logger = c.Logger.WithComponent("coordinator")
	if c.Metrics == nil {
		c.Metrics = metrics.GetGlobalMetrics()
	}

	if opts.DNSServer != "" {
		c.Resolver = NewDNSResolver(opts.DNSServer, 0)
	} else {
		c.Resolver = NewSystemResolver()
	}

	prober := NewTCPProber()
	prober.Observer = c.observeProbe
	c.Prober = prober

	banners := NewTCPBannerReader()
	if opts.BannerMaxBytes > 0 {
		banners.MaxBytes = opts.BannerMaxBytes
	}
	banners.OnError = c.observeBanner
	c.Banners = banners

	return c
}

// Run executes one scan. The only error returned after validation is a
// *errors.ResolutionError; per-port failures are folded into filtered.
func (c *Coordinator) Run(ctx context.Context, req *ScanRequest) (*ScanSummary, error) {
	m := c.metrics()
	if req == nil {
		m.IncrementScansTotal("invalid")
		return nil, errors.NewScanError(errors.CodeValidation, "scan request is nil")
	}
	if err := req.Validate(); err != nil {
		m.IncrementScansTotal("invalid")
		return nil, err
	}

	log := c.logger().WithTarget(req.Target)
	start := time.Now()

	address, err := c.resolver().Resolve(ctx, req.Target)
	if err != nil {
		m.IncrementScansTotal("resolution_failed")
		if !errors.IsResolutionError(err) {
			err = errors.NewResolutionError(req.Target, err)
		}
		log.Error("Target resolution failed", "error", err)
		return nil, err
	}

	m.AddActiveScans(1)
	defer m.AddActiveScans(-1)

	log.Info("Scan started",
		"address", address,
		"ports", len(req.Ports),
		"concurrency", req.Concurrency,
		"timeout", req.Timeout)
	if c.Started != nil {
		c.Started(address)
	}

	slots := NewSlotManager(req.Concurrency)
	open, closed, filtered := c.collect(ctx, address, req, slots)
	elapsed := time.Since(start)
	summary := BuildSummary(req.Target, address, open, closed, filtered, elapsed)

	m.IncrementScansTotal("success")
	m.RecordScanDuration(elapsed)
	m.IncrementPorts(string(StatusOpen), len(summary.Open))
	m.IncrementPorts(string(StatusClosed), len(summary.Closed))
	m.IncrementPorts(string(StatusFiltered), len(summary.Filtered))

	log.Info("Scan completed",
		"address", address,
		"open", len(summary.Open),
		"closed", len(summary.Closed),
		"filtered", len(summary.Filtered),
		"duration", elapsed)
	stats := slots.GetStats()
	log.Debug("Slot usage", "capacity", stats["capacity"], "peak", stats["peak"])

	return summary, nil
}

// collect dispatches every port and classifies results in completion order.
// The three slices are owned by this goroutine; workers hand results over
// the channel.
func (c *Coordinator) collect(ctx context.Context, address string, req *ScanRequest, slots ResourceManager) (open, closed, filtered []PortResult) {
	total := len(req.Ports)
	results := make(chan PortResult, req.Concurrency)

	go func() {
		var wg sync.WaitGroup
		for _, port := range req.Ports {
			if err := slots.Acquire(ctx); err != nil {
				// Canceled before a slot freed up; the port still gets an entry.
				results <- PortResult{Port: port, Status: StatusFiltered}
				continue
			}
			wg.Add(1)
			go func(port int) {
				defer wg.Done()
				defer slots.Release()
				results <- c.scanPort(ctx, address, port, req)
			}(port)
		}
		wg.Wait()
		close(results)
	}()

	interval := c.ProgressInterval
	if interval <= 0 {
		interval = DefaultProgressInterval
	}

	done := 0
	for r := range results {
		switch r.Status {
		case StatusOpen:
			open = append(open, r)
		case StatusClosed:
			closed = append(closed, r)
		default:
			filtered = append(filtered, r)
		}
		done++
		if c.Progress != nil && (done%interval == 0 || done == total) {
			c.Progress(done, total)
		}
	}
	return open, closed, filtered
}

// scanPort runs the probe and, for open ports, the banner read. A panic is
// turned into a filtered result for that port only.
func (c *Coordinator) scanPort(ctx context.Context, address string, port int, req *ScanRequest) (result PortResult) {
	m := c.metrics()
	m.AddInFlightProbes(1)
	defer m.AddInFlightProbes(-1)

	defer func() {
		if r := recover(); r != nil {
			c.logger().WarnProbe("Probe panicked, recording port as filtered", address, port,
				"panic", fmt.Sprint(r))
			m.IncrementProbeErrors(string(errors.ProbeKindPanic), false)
			result = PortResult{Port: port, Status: StatusFiltered}
		}
	}()

	started := time.Now()
	result = c.prober().Probe(ctx, address, port, req.Timeout)
	result.Port = port
	m.RecordProbe(string(result.Status), time.Since(started))

	if result.Status != StatusOpen {
		result.Banner = nil
		return result
	}

	if c.Banners == nil {
		return result
	}
	result.Banner = c.Banners.ReadBanner(ctx, address, port, req.BannerTimeout)
	if result.Banner != nil {
		m.IncrementBanners("captured")
	} else {
		m.IncrementBanners("none")
	}
	return result
}

func (c *Coordinator) observeProbe(err *errors.ProbeError) {
	local := IsLocalProbeError(err)
	c.metrics().IncrementProbeErrors(string(err.Kind), local)
	if local {
		c.logger().WarnProbe("Local resource error during probe", err.Address, err.Port,
			"kind", err.Kind, "error", err.Cause)
		return
	}
	c.logger().DebugProbe("Probe filtered", err.Address, err.Port, "kind", err.Kind, "error", err.Cause)
}

func (c *Coordinator) observeBanner(err *errors.BannerError) {
	c.logger().DebugProbe("No banner read", err.Address, err.Port, "error", err.Cause)
}

func (c *Coordinator) resolver() Resolver {
	if c.Resolver == nil {
		return NewSystemResolver()
	}
	return c.Resolver
}

func (c *Coordinator) prober() Prober {
	if c.Prober == nil {
		return NewTCPProber()
	}
	return c.Prober
}

func (c *Coordinator) logger() *logging.Logger {
	if c.Logger == nil {
		return logging.Default()
	}
	return c.Logger
}

func (c *Coordinator) metrics() *metrics.PrometheusMetrics {
	if c.Metrics == nil {
		return metrics.GetGlobalMetrics()
	}
	return c.Metrics
}
