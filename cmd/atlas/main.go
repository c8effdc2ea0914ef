// Package main is the entry point for the atlas CLI.
package main

import "github.com/atlashq/atlas-cli/internal/cli"

func main() {
	cli.Execute()
}
