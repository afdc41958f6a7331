// File: cmd/version.go
package cmd

// Version is stamped at build time:
//
//	go build -ldflags "-X github.com/dang-hai/agentpulse/cmd.Version=1.2.3"
//
// The fallback marks an untagged local build.
var Version = "0.0.0-dev"
