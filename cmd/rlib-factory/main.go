// Command rlib-factory builds precompiled rlibs for a crate index
package main

import (
	"os"

	"github.com/rlibfactory/rlibfactory/pkg/cli"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	os.Exit(cli.Main(version))
}
