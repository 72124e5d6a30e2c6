package main

import "battery-cost-forecast/internal/cli"

func main() {
	cli.Execute()
}
