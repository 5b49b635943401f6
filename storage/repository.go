package storage

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"trial-hand/config"
	"trial-hand/models"
)

// trialSchema legt die Studientabelle an. Die abgeleiteten Spalten werden
// von PostgreSQL direkt aus dem JSONB-Payload berechnet und können deshalb
// nie von den gespeicherten Daten abweichen. GORMs AutoMigrate kann
// GENERATED ALWAYS nicht ausdrücken, daher rohes DDL.
var trialSchema = []string{
	`CREATE TABLE IF NOT EXISTS clinical_trials (
		id BIGSERIAL PRIMARY KEY,
		nct_id VARCHAR(255) UNIQUE NOT NULL,
		data JSONB NOT NULL,
		has_results BOOLEAN GENERATED ALWAYS AS ((data->>'hasResults')::boolean) STORED,
		overall_status VARCHAR(50) GENERATED ALWAYS AS ((data->'protocolSection'->'statusModule'->>'overallStatus')::text) STORED,
		phase VARCHAR(50) GENERATED ALWAYS AS (
			CASE
				WHEN jsonb_array_length(data->'protocolSection'->'designModule'->'phases') > 0
				THEN data->'protocolSection'->'designModule'->'phases'->>0
				ELSE NULL
			END
		) STORED,
		search_terms TEXT,
		created_at TIMESTAMP DEFAULT NOW(),
		last_updated_at TIMESTAMP DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_gin_data ON clinical_trials USING GIN (data jsonb_path_ops)`,
	`CREATE INDEX IF NOT EXISTS idx_has_results ON clinical_trials (has_results)`,
	`CREATE INDEX IF NOT EXISTS idx_overall_status ON clinical_trials (overall_status)`,
	`CREATE INDEX IF NOT EXISTS idx_phase ON clinical_trials (phase)`,
}

// TrialRepository kapselt alle Lese- und Schreibzugriffe auf die
// Studientabelle. Die Verbindung wird beim Start eines Laufs geöffnet und
// über Close wieder freigegeben.
type TrialRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewTrialRepository erstellt ein Repository über einer bestehenden Verbindung.
func NewTrialRepository(db *gorm.DB, log *zap.Logger) *TrialRepository {
	return &TrialRepository{db: db, logger: log}
}

// Open verbindet sich mit der Datenbank und legt das Schema an. Der Aufrufer
// muss Close genau einmal aufrufen, auch im Fehlerfall des Laufs.
func Open(cfg *config.Config, log *zap.Logger) (*TrialRepository, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("datenbankverbindung fehlgeschlagen: %w", err)
	}

	repo := NewTrialRepository(db, log)
	if err := repo.EnsureSchema(); err != nil {
		repo.Close()
		return nil, err
	}
	return repo, nil
}

// DB gibt die zugrunde liegende GORM-Verbindung zurück.
func (r *TrialRepository) DB() *gorm.DB {
	return r.db
}

// EnsureSchema legt Tabelle und Indexe idempotent an; sicher bei jedem Start.
func (r *TrialRepository) EnsureSchema() error {
	for _, stmt := range trialSchema {
		if err := r.db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("schema-anlage fehlgeschlagen: %w", err)
		}
	}
	return nil
}

// Upsert legt eine Studie an oder aktualisiert sie: der Payload wird ersetzt
// (und damit alle abgeleiteten Spalten), die Annotation in search_terms
// verschmolzen und last_updated_at vorgerückt. Jeder Aufruf committet für
// sich; es gibt keine Transaktion über mehrere Studien hinweg.
func (r *TrialRepository) Upsert(nctID string, payload datatypes.JSON, annotation string) (uint, error) {
	now := time.Now().UTC()

	var id uint
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var existing models.Trial
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("nct_id = ?", nctID).
			First(&existing).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			trial := models.Trial{
				NctID:         nctID,
				Data:          payload,
				SearchTerms:   annotation,
				LastUpdatedAt: now,
			}
			if err := tx.Create(&trial).Error; err != nil {
				return err
			}
			id = trial.ID
			return nil
		}
		if err != nil {
			return err
		}

		updates := updateColumns(existing, payload, annotation, now)
		if err := tx.Model(&models.Trial{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
			return err
		}
		id = existing.ID
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("upsert für %s fehlgeschlagen: %w", nctID, err)
	}
	return id, nil
}

// updateColumns baut die Spalten für den Update-Zweig des Upserts: Payload
// ersetzt, Annotation in search_terms verschmolzen, Zeitstempel vorgerückt.
func updateColumns(existing models.Trial, payload datatypes.JSON, annotation string, now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"data":            payload,
		"search_terms":    MergeSearchTerms(existing.SearchTerms, annotation),
		"last_updated_at": nextUpdateTime(now, existing.LastUpdatedAt),
	}
}

// nextUpdateTime rückt last_updated_at strikt vor. Liegt die Uhr nicht nach
// dem gespeicherten Wert (grobe Auflösung, Schräglauf), wird der gespeicherte
// Wert um eine Mikrosekunde erhöht statt rückwärts zu laufen.
func nextUpdateTime(now, existing time.Time) time.Time {
	if now.After(existing) {
		return now
	}
	return existing.Add(time.Microsecond)
}

// ListAll liest alle gespeicherten Studien inklusive der abgeleiteten Spalten.
func (r *TrialRepository) ListAll() ([]models.Trial, error) {
	var trials []models.Trial
	if err := r.db.Order("id").Find(&trials).Error; err != nil {
		return nil, fmt.Errorf("lesen der studientabelle fehlgeschlagen: %w", err)
	}
	return trials, nil
}

// Close gibt die Datenbankverbindung frei.
func (r *TrialRepository) Close() {
	sqlDB, err := r.db.DB()
	if err != nil {
		r.logger.Warn("Konnte zugrunde liegende Verbindung nicht ermitteln", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		r.logger.Warn("Schließen der Datenbankverbindung fehlgeschlagen", zap.Error(err))
	}
}
