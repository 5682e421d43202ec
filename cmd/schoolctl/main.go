package main

import (
	"os"

	"github.com/synod-schools/portal/cmd/schoolctl/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
