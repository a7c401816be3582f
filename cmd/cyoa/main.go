package main

import (
	"fmt"
	"os"
)

// version is set at build time using -ldflags. Default is "dev".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
