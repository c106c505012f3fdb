// The main package for the lexarc executable.
package main

import (
	"github.com/openlegis/lexarc/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
