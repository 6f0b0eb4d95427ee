package main

import "playtimetracker/internal/cli"

func main() {
	cli.Execute()
}
