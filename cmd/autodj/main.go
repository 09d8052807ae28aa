// Command autodj drives DJ effect macros from a live Gemini session.
//
// Usage:
//
//	autodj [flags] <command> [args]
//
// Commands:
//
//	run       - Connect to Gemini and drive the macros
//	rehearse  - Replay a scripted session offline
//	session   - Show or clear the stored resumption handle
//	config    - Manage the configuration file
//	version   - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/autodj/cmd/autodj/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
