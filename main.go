// ./main.go
package main

import (
	"github.com/dang-hai/agentpulse/cmd"
)

// main hands straight off to the root command; config loading, logging
// bootstrap, and the serve/ctl subcommands all live in cmd.
func main() {
	cmd.Execute()
}
