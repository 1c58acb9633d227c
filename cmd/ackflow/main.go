package main

import (
	"fmt"
	"os"

	"github.com/arloliu/go-ackflow/cmd/ackflow/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
