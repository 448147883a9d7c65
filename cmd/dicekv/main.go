// Command dicekv is a command line client for a dicekv server.
//
// Connection settings come from flags, from DICEKV_* environment variables,
// or from a .env file in the working directory:
//
//	DICEKV_HOST=localhost DICEKV_PORT=7379 dicekv get greeting
//	dicekv --pool puddle set greeting hello --ex 1h
//	dicekv watch get greeting
//	dicekv repl
package main

import (
	"context"
	"os"
)

func main() {
	if err := newApp().execute(context.Background(), os.Args[1:]); err != nil {
		os.Exit(1)
	}
}
