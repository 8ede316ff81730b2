// Command admin is the operator-facing CLI for provisioning knowledge
// bases, ingesting files, and replaying the evaluator's rule checks
// against a previously recorded message.
//
// Every subcommand prints a stable "status=<word>" line on stderr; on
// failure main adds a final "status=error" line and exits non-zero.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "status=error\n")
		os.Exit(1)
	}
}
