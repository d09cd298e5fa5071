package main

import (
	"os"

	"saasloader/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
