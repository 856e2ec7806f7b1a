package main

import (
	"context"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	setVersion(version)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "trustd: %v\n", err)
		os.Exit(1)
	}
}
