// The main package for the chapterforge executable.
package main

import (
	"fmt"
	"os"
)

// main defers all execution to the Cobra CLI.
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
