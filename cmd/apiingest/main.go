// Command apiingest converts an OpenAPI or Swagger document into LLM-ready
// artifacts from the command line.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
