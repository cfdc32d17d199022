package main

import (
	"fmt"
	"os"

	"github.com/m3rciful/dialogbot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dialogbot:", err)
		os.Exit(1)
	}
}
