package main

import (
	"fmt"
	"os"

	"github.com/edvin/botplane/internal/botctl"
)

func main() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(botctl.Exit(err))
}
