// Command pricecheck runs YAML pricing scenarios through the pricing engine, or
// through a running API with --url, and reports every mismatch.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/noah-isme/backend-mealkit/internal/harness"
)

func main() {
	app := &cli.App{
		Name:  "pricecheck",
		Usage: "Check meal subscription pricing against expected scenarios",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Value:   "internal/harness/testdata/scenarios.yaml",
				Usage:   "Path to the scenario file",
			},
			&cli.StringFlag{
				Name:    "url",
				Usage:   "Base URL of a running API; prices locally when empty",
				EnvVars: []string{"PRICECHECK_URL"},
			},
			&cli.StringFlag{
				Name:    "admin-token",
				Usage:   "Admin token for scenarios with an admin discount",
				EnvVars: []string{"ADMIN_API_TOKEN"},
			},
			&cli.IntFlag{
				Name:  "attempts",
				Value: 3,
				Usage: "Attempts per scenario against a failing API",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 30 * time.Second,
				Usage: "Overall timeout in remote mode",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Print passing scenarios too",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	suite, err := harness.Load(c.String("file"))
	if err != nil {
		return err
	}

	var outcomes []harness.Outcome
	if url := c.String("url"); url != "" {
		ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
		defer cancel()
		outcomes = harness.Remote{
			BaseURL:    url,
			AdminToken: c.String("admin-token"),
			Attempts:   c.Int("attempts"),
		}.Run(ctx, suite)
	} else {
		outcomes, err = harness.Run(suite)
		if err != nil {
			return err
		}
	}

	for _, o := range outcomes {
		switch {
		case !o.Passed:
			fmt.Printf("FAIL  %s\n", o.Name)
			for _, p := range o.Problems {
				fmt.Printf("      %s\n", p)
			}
		case c.Bool("verbose"):
			fmt.Printf("ok    %s  total=%s\n", o.Name, o.Breakdown.TotalRounded.StringFixed(2))
		}
	}

	failed := harness.Failed(outcomes)
	fmt.Printf("%d scenarios, %d failed\n", len(outcomes), failed)
	if failed > 0 {
		return cli.Exit("", 1)
	}
	return nil
}
