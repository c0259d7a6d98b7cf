// cmd/capplanner/main.go
package main

import (
	"os"

	"github.com/FairForge/capplanner/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
