// Command hmapimport runs the map import and tile rendering core
// against a .hmap stream from the command line.
package main

import "github.com/mapcore/hmapimport/cmd/hmapimport/cmd"

func main() {
	cmd.Execute()
}
