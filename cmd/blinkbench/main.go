package main

import "blinkbench/internal/cli"

func main() {
	cli.Execute()
}
