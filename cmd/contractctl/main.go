// Command contractctl renders contract templates offline and issues
// development tokens for the ContractFlow API.
package main

import (
	"fmt"
	"os"
)

const (
	exitSuccess   = 0
	exitUserError = 1
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUserError)
	}
	os.Exit(exitSuccess)
}
