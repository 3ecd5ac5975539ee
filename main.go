package main

import (
	"fmt"
	"os"

	"github.com/ortelius/pdvd-depscan/internal/cmd/root"
)

func main() {
	if err := root.NewCmdRoot().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to exec depscan: %+v\n", err)
		os.Exit(1)
	}
}
