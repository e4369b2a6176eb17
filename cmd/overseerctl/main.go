// Command overseerctl is the operator CLI for an overseer-lite server.
package main

import (
	"fmt"
	"os"

	"github.com/overseer-lite/overseer-lite/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
