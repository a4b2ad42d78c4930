// Command translatar captures speech, streams it to the translation service
// and prints the text results. It can also run a local frame backend for development.
package main

import (
	"os"
)

const (
	serviceName    = "translatar-client"
	serviceVersion = "1.0.0"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
