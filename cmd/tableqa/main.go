package main

import (
	"os"

	"github.com/wara-ops/tableqa/internal/cli"
)

func main() {
	os.Exit(int(cli.Run()))
}
