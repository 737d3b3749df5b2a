package main

import "github.com/ironsheep/vlm-tools-mcp/internal/cli"

// Version information - set by ldflags during build
var Version = "dev"

func main() {
	cli.Version = Version
	cli.Execute()
}
