package main

import (
	"fmt"

	"github.com/filehub/filehub/internal/version"
)

// printVersion writes the banner followed by the Go toolchain that built it.
func printVersion() {
	info := version.Get()
	fmt.Fprintf(stdOut, "%s %s\n", version.Full(), info.GoVersion)
}
