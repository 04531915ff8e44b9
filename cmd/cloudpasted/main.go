// Command cloudpasted runs the CloudPaste storage gateway: the HTTP proxy,
// the background job engine, and the cron-driven scheduler that feeds it,
// all wired from a single YAML configuration file.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
