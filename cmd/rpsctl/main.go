package main

import "github.com/mcoot/rpsleague/internal/cli"

func main() {
	cli.Execute()
}
