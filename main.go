// The main package for the serialwatch executable.
package main

import (
	"github.com/JakeFAU/serialwatch/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
