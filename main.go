// The main package for the bookhaul executable.
package main

import (
	"bookhaul/cmd"
)

func main() {
	cmd.Execute()
}
