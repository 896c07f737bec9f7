// Package scanning provides the TCP scan engine for portscout.
//
// A scan takes one target and a set of ports. The target is resolved once,
// then every port is probed with a full TCP connect under a fixed concurrency
// cap and classified as open, closed or filtered. Open ports get a second,
// best-effort connection that reads a service banner.
//
// # Main Components
//
//   - Resolver: SystemResolver (platform resolver) or DNSResolver (queries a
//     configured server directly).
//   - Prober: TCPProber and ClassifyDialError. Refused connections are
//     closed; timeouts and every other error are filtered.
//   - BannerReader: TCPBannerReader, a single bounded read on a fresh
//     connection.
//   - Coordinator: resolves, fans out over a SlotManager, collects results in
//     completion order and reports progress.
//   - Summary helpers: BuildSummary, CompressRanges, CompressPorts and
//     ExpandRanges.
//
// # Port Selection
//
// Ports come from a fixed category (Categories, CategoryPorts), an inclusive
// range (PortRange) or a spec string such as "22,80,8000-8010"
// (ParsePortSpec).
//
// # Usage Example
//
//	coord := scanning.NewCoordinator(scanning.CoordinatorOptions{})
//	summary, err := coord.Run(ctx, &scanning.ScanRequest{
//		Target:        "scanme.example.org",
//		Ports:         []int{22, 80, 443},
//		Timeout:       scanning.DefaultTimeout,
//		BannerTimeout: scanning.DefaultBannerTimeout,
//		Concurrency:   scanning.DefaultConcurrency,
//	})
//
// Only resolution failure aborts a scan. Every requested port appears in
// exactly one of the summary's three lists.
package scanning
