// Command mechoscore runs the mechOS broker: the node registry on the
// well-known control address, the parameter store, and the admin API.
package main

import (
	"fmt"
	"os"
)

const (
	appName    = "mechoscore"
	appVersion = "0.1.0"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
