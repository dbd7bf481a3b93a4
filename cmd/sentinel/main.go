package main

import (
	"github.com/jamiemccourt800/TCG-Sentinel/internal/cli"
)

func main() {
	cli.Execute()
}
