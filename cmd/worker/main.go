// Command worker runs one worker client process (spec §6's CLI surface:
// exactly one positional argument, the path to its JSON config).
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/jotagamaral/masterfed/internal/config"
	"github.com/jotagamaral/masterfed/internal/logging"
	"github.com/jotagamaral/masterfed/internal/worker"
)

func main() {
	app := &cli.App{
		Name:      "worker",
		Usage:     "run a federation worker client",
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
		return cli.Exit("usage: worker <config.json>", 2)
	}
	cfg, err := config.LoadWorker(c.Args().First())
	if err != nil {
		return cli.Exit(err, 1)
	}

	log := logging.New(os.Stderr, c.Bool("debug"))
	w := worker.New(cfg, log, nil)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("shutdown signal received")
		w.Shutdown()
	}()

	if err := w.Run(); err != nil {
		return cli.Exit(err, 1)
	}
	return nil
}
