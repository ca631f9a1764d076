package main

import (
	"fmt"
	"os"

	"github.com/orion-deck/orion-deck/cmd/orion-deck/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
