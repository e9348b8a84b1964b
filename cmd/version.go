package cmd

import "fmt"

// Version information, injected at build time via ldflags.
var (
	AppVersion = "0.1.0"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

// runVersion prints version information.
func runVersion() {
	fmt.Printf("Quill %s\n", AppVersion)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
