// Command crank runs recipes for a Rust/Cargo workspace.
package main

import "github.com/lemon07r/crank/internal/cli"

func main() {
	cli.Execute()
}
