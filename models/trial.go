package models

import (
	"time"

	"gorm.io/datatypes"
)

// Trial repräsentiert eine registrierte klinische Studie aus ClinicalTrials.gov.
// Der vollständige API-Datensatz liegt unverändert als JSONB in Data; die
// Spalten HasResults, OverallStatus und Phase werden von PostgreSQL als
// GENERATED ALWAYS aus Data abgeleitet und sind hier nur lesbar.
type Trial struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	NctID string         `json:"nct_id" gorm:"column:nct_id;uniqueIndex;not null"`
	Data  datatypes.JSON `json:"data" gorm:"type:jsonb;not null"`

	HasResults    *bool   `json:"has_results,omitempty" gorm:"->"`
	OverallStatus *string `json:"overall_status,omitempty" gorm:"->"`
	Phase         *string `json:"phase,omitempty" gorm:"->"`

	// Akkumulierte Annotationen: jede Filterkombination, die diese Studie
	// jemals gefunden hat, als "; "-getrennte Token.
	SearchTerms string `json:"search_terms,omitempty" gorm:"type:text"`

	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Trial) TableName() string {
	return "clinical_trials"
}
