// Package main is the entry point of the company registry service.
package main

import (
	"fmt"
	"os"

	"registry-service/internal/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
