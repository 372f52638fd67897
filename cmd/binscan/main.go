package main

import (
	"os"
	"time"

	"github.com/swarmguard/binscan/core/logging"
	"github.com/swarmguard/binscan/internal/cli"
	"github.com/swarmguard/binscan/internal/config"
	"github.com/swarmguard/binscan/scanner"
	"github.com/swarmguard/binscan/scanner/yara"
)

// Set via -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = ""
	commit  = ""
	date    = ""
)

func main() {
	config.LoadDotEnv()
	logging.InitWriter("binscan", os.Stderr)

	cli.SetBuildInfo(version, commit, date)
	cli.SetEngineFactory(func(timeout time.Duration) scanner.Engine {
		return scanner.NewMux().
			Handle(yara.New(timeout), yara.Extensions...).
			Handle(scanner.NewLiteralEngine(), ".json")
	})
	cli.Execute()
}
