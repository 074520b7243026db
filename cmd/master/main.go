// Command master runs one federation master process (spec §6's CLI
// surface: exactly one positional argument, the path to its JSON config).
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/jotagamaral/masterfed/internal/config"
	"github.com/jotagamaral/masterfed/internal/logging"
	"github.com/jotagamaral/masterfed/internal/master"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	app := &cli.App{
		Name:      "master",
		Usage:     "run a federation master server",
		ArgsUsage: "<config.json>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "debug", Usage: "enable debug-level logging"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: master <config.json>", 2)
	}
	cfg, err := config.LoadMaster(c.Args().First())
	if err != nil {
		return cli.Exit(err, 1)
	}

	log := logging.New(os.Stderr, c.Bool("debug"))
	m := master.New(cfg, log, prometheus.DefaultRegisterer)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("shutdown signal received")
		m.Shutdown()
	}()

	if err := m.Run(); err != nil {
		return cli.Exit(err, 1)
	}
	return nil
}
