// Command portscout is a concurrent TCP connect port scanner with banner
// grabbing, JSON and PostgreSQL persistence, and an HTTP API.
package main

import "github.com/anstrom/portscout/cmd/cli"

// Build information, set with -ldflags "-X main.version=...".
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
