package main

import "github.com/hupe1980/parcore/cmd/parbench/cmd"

func main() {
	cmd.Execute()
}
