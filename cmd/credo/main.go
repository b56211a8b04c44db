// credo runs the Workload API and the delegation token service.
//
// Usage:
//
//	credo workload-api --config credo.yaml
//	credo user-service --config credo.yaml
//	credo version
package main

import (
	"fmt"
	"os"

	"github.com/sufield/credo/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
