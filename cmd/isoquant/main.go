package main

import (
	"os"

	"isoquant/cmd/isoquant/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
