package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/simplechat/simplechat/cmd"
)

func main() {
	// Load .env if present; real environment variables take precedence.
	_ = godotenv.Load()

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
