package main

import "github.com/deskpilot/deskpilot/internal/cli"

func main() {
	cli.Execute()
}
