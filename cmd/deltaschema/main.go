// Command deltaschema derives Delta log schemas from table schemas, checks
// checkpoints against them and serves the derivation API.
package main

import (
	"context"
	"os"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
