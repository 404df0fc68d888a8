// Package main wires together the livegraph service binary.
package main

import "github.com/xxllxllxlllx/live-graph-system/internal/cli"

func main() {
	cli.Execute()
}
