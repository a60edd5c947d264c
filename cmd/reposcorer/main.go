package main

import (
	"os"

	"github.com/hitoshi/reposcorer/internal/app"
)

func main() {
	if err := app.Run(os.Stderr, os.Args[1:]); err != nil {
		os.Exit(1)
	}
}
