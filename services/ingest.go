package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"trial-hand/config"
	"trial-hand/models"
	"trial-hand/providers"
	"trial-hand/providers/ctgov"
)

// ErrNoSearchTerms wird zurückgegeben, wenn ein Lauf ohne jeden Filterbegriff
// gestartet wird. Die Prüfung läuft vor jedem Netzwerk- oder Datenbankzugriff.
var ErrNoSearchTerms = errors.New("mindestens einer der filter condition, intervention oder other_terms muss gesetzt sein")

// TrialStore ist der Schreibausschnitt des Repositories, den der Scrape-Lauf braucht.
type TrialStore interface {
	Upsert(nctID string, payload datatypes.JSON, annotation string) (uint, error)
}

// IngestParams sind die Eingaben eines einzelnen Scrape-Laufs.
type IngestParams struct {
	Condition    string `json:"condition"`
	Intervention string `json:"intervention"`
	OtherTerms   string `json:"other_terms"`
	MaxRecords   int    `json:"max_records"` // 0 = unbegrenzt
	ResultsOnly  bool   `json:"results_only"`
}

// IngestSummary fasst einen Lauf zusammen. Jede Studie landet in genau einer
// der drei Zählungen: gespeichert, übersprungen (keine NCT-ID) oder fehlgeschlagen.
type IngestSummary struct {
	Stored  int           `json:"stored"`
	Skipped int           `json:"skipped"`
	Failed  int           `json:"failed"`
	Pages   int           `json:"pages"`
	Elapsed time.Duration `json:"elapsed"`
}

// IngestService orchestriert den Scrape-Lauf: Validierung, Seitenschleife,
// Upserts und das optionale Limit auf die Gesamtzahl gespeicherter Studien.
type IngestService struct {
	Config   *config.Config
	Store    TrialStore
	Provider providers.Provider
	Logger   *zap.Logger
}

// NewIngestService erstellt eine neue Instanz des IngestService.
func NewIngestService(cfg *config.Config, store TrialStore, provider providers.Provider, logger *zap.Logger) *IngestService {
	return &IngestService{Config: cfg, Store: store, Provider: provider, Logger: logger}
}

// BuildAnnotation baut die kanonische Annotation eines Laufs, die jeder
// gefundenen Studie in search_terms angehängt wird.
func BuildAnnotation(p IngestParams) string {
	var parts []string
	if p.Condition != "" {
		parts = append(parts, "condition:"+p.Condition)
	}
	if p.Intervention != "" {
		parts = append(parts, "intervention:"+p.Intervention)
	}
	if p.OtherTerms != "" {
		parts = append(parts, "other_terms:"+p.OtherTerms)
	}
	if p.ResultsOnly {
		parts = append(parts, "has_results:true")
	}
	return strings.Join(parts, "; ")
}

// Run führt einen vollständigen Scrape-Lauf aus. Die zurückgegebene Summary
// ist auch bei einem Abbruch gefüllt, damit der Aufrufer die bis dahin
// gespeicherte Anzahl melden kann.
func (s *IngestService) Run(ctx context.Context, p IngestParams) (*IngestSummary, error) {
	summary := &IngestSummary{}
	start := time.Now()
	defer func() { summary.Elapsed = time.Since(start) }()

	query := providers.SearchQuery{
		Condition:    p.Condition,
		Intervention: p.Intervention,
		OtherTerms:   p.OtherTerms,
		ResultsOnly:  p.ResultsOnly,
	}
	if query.IsEmpty() {
		return summary, ErrNoSearchTerms
	}

	annotation := BuildAnnotation(p)

	log := s.Logger.With(zap.String("provider", s.Provider.Name()), zap.String("annotation", annotation))
	log.Info("Starte Scrape-Lauf", zap.Int("max_records", p.MaxRecords))

	pageToken := ""
	for {
		page, err := s.Provider.SearchStudies(ctx, query, pageToken)
		if err != nil {
			log.Error("Seitenabruf endgültig fehlgeschlagen, Lauf wird abgebrochen",
				zap.Int("stored_so_far", summary.Stored), zap.Error(err))
			return summary, fmt.Errorf("seitenabruf fehlgeschlagen: %w", err)
		}
		summary.Pages++

		// Eine Antwort ohne studies-Sammlung gilt als Ende der Ergebnisse.
		if len(page.Studies) == 0 {
			log.Info("Keine weiteren Studien.")
			break
		}

		log.Info("Verarbeite Ergebnisseite", zap.Int("page", summary.Pages), zap.Int("studies", len(page.Studies)))

		if s.processPage(page.Studies, annotation, p.MaxRecords, summary, log) {
			break
		}
		if page.NextPageToken == "" {
			log.Info("Keine weiteren Seiten.")
			break
		}
		pageToken = page.NextPageToken
	}

	log.Info("Scrape-Lauf abgeschlossen",
		zap.Int("stored", summary.Stored),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("pages", summary.Pages))
	return summary, nil
}

// processPage verarbeitet die Studien einer Seite der Reihe nach. Fehler an
// einer einzelnen Studie brechen den Lauf nie ab. Gibt true zurück, sobald
// das Limit erreicht ist; verbleibende Studien der Seite werden verworfen.
func (s *IngestService) processPage(studies []json.RawMessage, annotation string, maxRecords int, summary *IngestSummary, log *zap.Logger) bool {
	for _, raw := range studies {
		study, err := ctgov.ParseStudy(raw)
		if err != nil {
			summary.Failed++
			log.Error("Studie nicht verarbeitbar, fahre mit der nächsten fort", zap.Error(err))
			continue
		}
		if study.NctID == "" {
			summary.Skipped++
			log.Warn("Studie ohne NCT-ID übersprungen")
			continue
		}

		if _, err := s.Store.Upsert(study.NctID, datatypes.JSON(raw), annotation); err != nil {
			summary.Failed++
			log.Error("Speichern der Studie fehlgeschlagen, fahre mit der nächsten fort",
				zap.String("nct_id", study.NctID), zap.Error(err))
			continue
		}
		summary.Stored++

		log.Debug("Studie gespeichert",
			zap.String("nct_id", study.NctID),
			zap.String("status", study.OverallStatus),
			zap.Bool("has_results", study.HasResults),
			zap.Int("total", summary.Stored))

		if maxRecords > 0 && summary.Stored >= maxRecords {
			log.Info("Maximale Anzahl Studien erreicht", zap.Int("max_records", maxRecords))
			return true
		}
	}
	return false
}

// RunProfiles führt den Scrape-Lauf für alle übergebenen Suchprofile aus und
// gibt die Gesamtzahl gespeicherter Studien zurück. Ein fehlgeschlagenes
// Profil stoppt die übrigen nicht; der letzte Fehler wird am Ende gemeldet.
func (s *IngestService) RunProfiles(ctx context.Context, profiles []models.SearchProfile) (int, error) {
	total := 0
	var lastErr error
	for _, profile := range profiles {
		summary, err := s.Run(ctx, IngestParams{
			Condition:    profile.Condition,
			Intervention: profile.Intervention,
			OtherTerms:   profile.OtherTerms,
			ResultsOnly:  profile.ResultsOnly,
		})
		total += summary.Stored
		if err != nil {
			lastErr = fmt.Errorf("profil %s: %w", profile.Name, err)
			s.Logger.Error("Profil-Lauf fehlgeschlagen", zap.String("profile", profile.Name), zap.Error(err))
			continue
		}
		s.Logger.Info("Profil-Lauf abgeschlossen", zap.String("profile", profile.Name), zap.Int("stored", summary.Stored))
	}
	return total, lastErr
}
