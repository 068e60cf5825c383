package version

import "fmt"

// Version, GitCommit and BuildDate are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/Cloudslab/sdcon/pkg/version.Version=v1.0.0 \
//	  -X github.com/Cloudslab/sdcon/pkg/version.GitCommit=abc1234 \
//	  -X github.com/Cloudslab/sdcon/pkg/version.BuildDate=2026-08-01"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns a single human-readable line identifying this build.
func Info() string {
	if Version == "dev" {
		return "sdcon dev build"
	}
	return fmt.Sprintf("sdcon %s (%s, built %s)", Version, GitCommit, BuildDate)
}
