package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"trial-hand/config"
	"trial-hand/providers/ctgov"
	"trial-hand/services"
	"trial-hand/storage"
)

func main() {
	app := &cli.App{
		Name:  "scrape",
		Usage: "Harvest clinical trial records from ClinicalTrials.gov into PostgreSQL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "condition",
				Usage: "Medical condition to search for",
			},
			&cli.StringFlag{
				Name:  "intervention",
				Usage: "Treatment/intervention to search for",
			},
			&cli.StringFlag{
				Name:  "other-terms",
				Usage: "Additional search terms to filter trials",
			},
			&cli.IntFlag{
				Name:  "max-trials",
				Usage: "Maximum number of trials to fetch (0 = unlimited)",
			},
			&cli.BoolFlag{
				Name:  "results-only",
				Usage: "Only fetch trials that have posted results",
			},
		},
		Action: scrapeCommand,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func scrapeCommand(c *cli.Context) error {
	params := services.IngestParams{
		Condition:    c.String("condition"),
		Intervention: c.String("intervention"),
		OtherTerms:   c.String("other-terms"),
		MaxRecords:   c.Int("max-trials"),
		ResultsOnly:  c.Bool("results-only"),
	}
	if params.Condition == "" && params.Intervention == "" && params.OtherTerms == "" {
		return cli.Exit("at least one of --condition, --intervention or --other-terms must be specified", 2)
	}
	if params.MaxRecords < 0 {
		return cli.Exit("--max-trials must be a positive integer", 2)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load error: %w", err)
	}

	repo, err := storage.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	ingestService := services.NewIngestService(cfg, repo, ctgov.NewFetcher(cfg, logger), logger)

	summary, runErr := ingestService.Run(context.Background(), params)

	// Die Anzahl wird auch bei einem Abbruch gemeldet.
	fmt.Printf("Total trials stored: %d (skipped: %d, failed: %d)\n", summary.Stored, summary.Skipped, summary.Failed)
	fmt.Printf("Time taken: %s\n", summary.Elapsed)

	if runErr != nil {
		return cli.Exit(fmt.Sprintf("scrape run aborted: %v", runErr), 1)
	}
	return nil
}
