package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/anicoll/froeling-integration/cmd"
)

func main() {
	app := &cli.App{
		Name:   "froeling-integration",
		Usage:  "polls a Froeling Connect facility and publishes it to MQTT, Postgres and HTTP",
		Action: cmd.FroelingCommand,
		Commands: []*cli.Command{
			{
				Name:   "hash-token",
				Usage:  "generate an API token and its API_TOKEN_HASH value",
				Action: cmd.HashTokenCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "token",
						Usage: "hash this token instead of generating one",
					},
					&cli.IntFlag{
						Name:  "length",
						Value: 32,
					},
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
