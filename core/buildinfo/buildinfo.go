// Package buildinfo exposes version metadata injected at build time.
package buildinfo

// Set via -ldflags, for example:
//
//	go build -ldflags "-X github.com/m3rciful/questbot/core/buildinfo.Version=v1.2.0 \
//	  -X github.com/m3rciful/questbot/core/buildinfo.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/m3rciful/questbot/core/buildinfo.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
