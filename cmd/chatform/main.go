package main

import (
	"fmt"
	"os"

	"github.com/soyeahso/chatform/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "chatform:", err)
		os.Exit(1)
	}
}
