package main

import "github.com/codeindex/core/internal/cli"

func main() {
	cli.Execute()
}
