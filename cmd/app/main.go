package main

import (
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
)

var (
	log = logging.Logger("kimi")
)

func main() {
	if err := logging.SetLogLevel("*", "info"); err != nil {
		log.Fatal(err)
	}
	app := &cli.App{
		Name:  "kimi",
		Usage: "escrow service for mobile money marketplaces",
		Flags: []cli.Flag{},
		Commands: []*cli.Command{
			cmdServe,
			cmdMigrate,
			cmdSweep,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
