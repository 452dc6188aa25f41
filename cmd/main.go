package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	backtestcmd "ohmycoins/cmd/backtest"
	"ohmycoins/cmd/collect"
	"ohmycoins/cmd/keys"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "ohmycoins CMD"
	app.Usage = "The ohmycoins command line interface"

	app.Commands = []cli.Command{
		backtestCMD,
		collectCMD,
		keysCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	backtestCMD = cli.Command{
		Name:      "backtest",
		Usage:     "run a strategy backtest against stored bars",
		Action:    backtestAction,
		ArgsUsage: "",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "strategy", Value: "ma_crossover", Usage: "built-in strategy name"},
			cli.StringFlag{Name: "coin", Value: "BTC", Usage: "symbol to test"},
			cli.StringFlag{Name: "start", Usage: "window start (YYYY-MM-DD)"},
			cli.StringFlag{Name: "end", Usage: "window end (YYYY-MM-DD)"},
			cli.StringFlag{Name: "capital", Value: "10000", Usage: "initial capital"},
			cli.Float64Flag{Name: "fee", Value: 0.001, Usage: "per-switch fee rate"},
			cli.Float64Flag{Name: "slippage", Value: 0.0005, Usage: "per-switch slippage rate"},
		},
		Description: `Run a backtest and print the report as JSON`,
	}
	collectCMD = cli.Command{
		Name:        "collect",
		Usage:       "fire one configured collector immediately",
		Action:      collectAction,
		ArgsUsage:   "<collector name>",
		Flags:       []cli.Flag{},
		Description: `Run a single collector outside the scheduler`,
	}
	keysCMD = cli.Command{
		Name:      "keys",
		Usage:     "store or validate exchange credentials",
		Action:    keysAction,
		ArgsUsage: "",
		Flags: []cli.Flag{
			cli.UintFlag{Name: "user", Usage: "user id"},
			cli.StringFlag{Name: "api-key", Usage: "exchange api key (omit to only re-validate)"},
			cli.StringFlag{Name: "api-secret", Usage: "exchange api secret"},
		},
		Description: `Encrypt and store exchange keys, then probe the exchange`,
	}
)

func backtestAction(c *cli.Context) error {
	logrus.Info("Starting backtest CMD")

	return backtestcmd.Run(backtestcmd.Options{
		Strategy: c.String("strategy"),
		Coin:     c.String("coin"),
		Start:    c.String("start"),
		End:      c.String("end"),
		Capital:  c.String("capital"),
		Fee:      c.Float64("fee"),
		Slippage: c.Float64("slippage"),
	})
}

func collectAction(c *cli.Context) error {
	logrus.Info("Starting collect CMD")

	return collect.Run(c.Args().First())
}

func keysAction(c *cli.Context) error {
	logrus.Info("Starting keys CMD")

	userID := uint(c.Uint("user"))
	if userID == 0 {
		return fmt.Errorf("a user id is required")
	}
	if c.String("api-key") == "" {
		return keys.Validate(userID)
	}
	return keys.Store(userID, c.String("api-key"), c.String("api-secret"))
}
