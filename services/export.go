package services

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"trial-hand/config"
	"trial-hand/models"
	"trial-hand/storage"
)

// TrialSource ist der Leseausschnitt des Repositories für die Exporte.
type TrialSource interface {
	ListAll() ([]models.Trial, error)
}

// csvColumns entspricht der Spaltenreihenfolge der Studientabelle.
var csvColumns = []string{
	"id", "nct_id", "data", "has_results", "overall_status", "phase",
	"search_terms", "created_at", "last_updated_at",
}

// ExportService serialisiert die gespeicherten Studien: komplette Tabelle als
// CSV oder ein JSON-File pro Studie. Reine Lese-Wrapper ohne eigenen Zustand.
type ExportService struct {
	Config *config.Config
	Source TrialSource
	S3     *s3.Client // optional; nil schaltet Uploads ab
	Logger *zap.Logger
}

// NewExportService erstellt eine neue Instanz des ExportService.
func NewExportService(cfg *config.Config, source TrialSource, s3Client *s3.Client, logger *zap.Logger) *ExportService {
	return &ExportService{Config: cfg, Source: source, S3: s3Client, Logger: logger}
}

// ExportCSV schreibt die komplette Studientabelle als CSV mit Kopfzeile nach
// path und lädt die Datei anschließend in den Export-Bucket, falls einer
// konfiguriert ist. Gibt die Anzahl exportierter Zeilen zurück.
func (e *ExportService) ExportCSV(path string) (int, error) {
	trials, err := e.Source.ListAll()
	if err != nil {
		return 0, err
	}

	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("csv-datei konnte nicht angelegt werden: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(csvColumns); err != nil {
		return 0, err
	}
	for _, trial := range trials {
		if err := writer.Write(csvRow(trial)); err != nil {
			return 0, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return 0, fmt.Errorf("csv-export fehlgeschlagen: %w", err)
	}

	e.Logger.Info("CSV-Export geschrieben", zap.String("path", path), zap.Int("rows", len(trials)))

	if e.S3 != nil && e.Config.S3Enabled() {
		if err := e.uploadExport(path); err != nil {
			e.Logger.Warn("Upload des CSV-Exports fehlgeschlagen", zap.Error(err))
		}
	}
	return len(trials), nil
}

// ExportJSON schreibt den Payload jeder Studie hübsch formatiert in eine
// Datei <nct_id>.json unterhalb von dir; das Verzeichnis wird bei Bedarf
// angelegt. Gibt die Anzahl geschriebener Dateien zurück.
func (e *ExportService) ExportJSON(dir string) (int, error) {
	trials, err := e.Source.ListAll()
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("export-verzeichnis konnte nicht angelegt werden: %w", err)
	}

	written := 0
	for _, trial := range trials {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, trial.Data, "", "    "); err != nil {
			e.Logger.Warn("Payload nicht formatierbar, Studie übersprungen",
				zap.String("nct_id", trial.NctID), zap.Error(err))
			continue
		}
		target := filepath.Join(dir, trial.NctID+".json")
		if err := os.WriteFile(target, pretty.Bytes(), 0o644); err != nil {
			return written, fmt.Errorf("schreiben von %s fehlgeschlagen: %w", target, err)
		}
		written++
	}

	e.Logger.Info("JSON-Export geschrieben", zap.String("dir", dir), zap.Int("files", written))
	return written, nil
}

// uploadExport lädt eine Exportdatei in den konfigurierten Bucket.
func (e *ExportService) uploadExport(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("exports/%s-%s", time.Now().UTC().Format("2006-01-02T15-04-05Z"), filepath.Base(path))
	link, err := storage.UploadFile(e.S3, e.Config.S3Bucket, key, data, e.Config)
	if err != nil {
		return err
	}
	e.Logger.Info("Export nach S3 hochgeladen", zap.String("link", link))
	return nil
}

// csvRow serialisiert eine Studie in der Spaltenreihenfolge von csvColumns.
func csvRow(t models.Trial) []string {
	return []string{
		strconv.FormatUint(uint64(t.ID), 10),
		t.NctID,
		string(t.Data),
		formatBoolPtr(t.HasResults),
		formatStringPtr(t.OverallStatus),
		formatStringPtr(t.Phase),
		t.SearchTerms,
		t.CreatedAt.UTC().Format(time.RFC3339Nano),
		t.LastUpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func formatBoolPtr(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}

func formatStringPtr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
