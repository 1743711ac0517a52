// Command goers validates, creates and renews evidence records.
//
// Usage:
//
//	goers <command> [flags] <args>
//
// Commands:
//
//	verify   Validate evidence records
//	digest   Compute the evidence record digest of a signature
//	create   Create an evidence record over documents
//	renew    Renew an evidence record
//	embed    Protect a signature with an embedded evidence record
//	serve    Run the HTTP validation service
//	version  Show version information
//
// Examples:
//
//	# Validate a detached record
//	goers verify --trust tsa-root.pem -d contract.pdf contract.ers
//
//	# Validate with JSON reports
//	goers verify --trust tsa-root.pem -d contract.pdf --format json contract.ers
package main

import (
	"github.com/georgepadayatti/goers/cli"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/goers
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime

	cli.Run()
}
