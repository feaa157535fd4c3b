// Command licensectl is the operator console for activation codes and the
// administrator license. It talks to the same stores as the service.
package main

import (
	"fmt"
	"os"
)

// Set at build time with -ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
