package main

import (
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/security-ir/slacksync/internal/cli"
)

// Version is provided at compile time
var Version = "dev"

func main() {
	app := kingpin.New("deploy", "Deploy the Security Incident Response sample integrations")
	app.Version(Version)

	cli.ConfigureDeployCommands(app, cli.DefaultRun)

	kingpin.MustParse(app.Parse(os.Args[1:]))
}
