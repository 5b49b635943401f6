package main

import (
	"fmt"
	"log"
	"os"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"trial-hand/config"
	"trial-hand/services"
	"trial-hand/storage"
)

func main() {
	app := &cli.App{
		Name:  "export",
		Usage: "Export stored clinical trial records",
		Commands: []*cli.Command{
			{
				Name:   "csv",
				Usage:  "Dump the full trials table into a CSV file with a header row",
				Action: csvCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "out",
						Usage: "Output CSV file (defaults to EXPORT_CSV_PATH)",
					},
				},
			},
			{
				Name:   "json",
				Usage:  "Write one pretty-printed JSON file per trial into a directory",
				Action: jsonCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "dir",
						Usage: "Output directory (defaults to EXPORT_JSON_DIR)",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// newExportService verbindet sich mit der Datenbank und baut den Service auf.
// Der zurückgegebene Cleanup muss genau einmal aufgerufen werden.
func newExportService() (*services.ExportService, *config.Config, func(), error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, nil, nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("config load error: %w", err)
	}

	repo, err := storage.Open(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	var s3Client *awss3.Client
	if cfg.S3Enabled() {
		s3Client, err = storage.NewS3Client(cfg)
		if err != nil {
			repo.Close()
			return nil, nil, nil, err
		}
	}

	cleanup := func() {
		repo.Close()
		logger.Sync()
	}
	return services.NewExportService(cfg, repo, s3Client, logger), cfg, cleanup, nil
}

func csvCommand(c *cli.Context) error {
	exportService, cfg, cleanup, err := newExportService()
	if err != nil {
		return err
	}
	defer cleanup()

	path := c.String("out")
	if path == "" {
		path = cfg.ExportCSVPath
	}
	rows, err := exportService.ExportCSV(path)
	if err != nil {
		return err
	}
	fmt.Printf("Data successfully saved to %s (%d rows)\n", path, rows)
	return nil
}

func jsonCommand(c *cli.Context) error {
	exportService, cfg, cleanup, err := newExportService()
	if err != nil {
		return err
	}
	defer cleanup()

	dir := c.String("dir")
	if dir == "" {
		dir = cfg.ExportJSONDir
	}
	files, err := exportService.ExportJSON(dir)
	if err != nil {
		return err
	}
	fmt.Printf("All JSON files saved to %s (%d files)\n", dir, files)
	return nil
}
