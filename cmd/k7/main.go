package main

import (
	"os"

	"github.com/wesleyorama2/k7/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
