package ctgov

import (
	"encoding/json"
	"fmt"
)

// searchResponse ist die Top-Level-Struktur der ClinicalTrials.gov-API-Antwort.
type searchResponse struct {
	Studies       []json.RawMessage `json:"studies"`
	NextPageToken string            `json:"nextPageToken"`
}

// StudySummary fasst die Kernfelder eines Studien-Dokuments zusammen, die
// der Scrape-Lauf zum Speichern und Loggen braucht.
type StudySummary struct {
	NctID         string
	OverallStatus string
	HasResults    bool
	Phase         string
}

// studyEnvelope bildet nur die verschachtelten Pfade ab, die zur Extraktion
// gebraucht werden; alles andere bleibt im rohen Dokument.
type studyEnvelope struct {
	HasResults      bool `json:"hasResults"`
	ProtocolSection struct {
		IdentificationModule struct {
			NctID string `json:"nctId"`
		} `json:"identificationModule"`
		StatusModule struct {
			OverallStatus string `json:"overallStatus"`
		} `json:"statusModule"`
		DesignModule struct {
			Phases []string `json:"phases"`
		} `json:"designModule"`
	} `json:"protocolSection"`
}

// ParseStudy extrahiert die Kernfelder aus einem rohen Studien-Dokument.
// Fehlende Pfade liefern Leer- bzw. Standardwerte, keinen Fehler; nur ein
// syntaktisch kaputtes Dokument schlägt fehl.
func ParseStudy(raw json.RawMessage) (*StudySummary, error) {
	var env studyEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("studien-dokument nicht lesbar: %w", err)
	}

	summary := &StudySummary{
		NctID:         env.ProtocolSection.IdentificationModule.NctID,
		OverallStatus: env.ProtocolSection.StatusModule.OverallStatus,
		HasResults:    env.HasResults,
	}
	if summary.OverallStatus == "" {
		summary.OverallStatus = "UNKNOWN"
	}
	if phases := env.ProtocolSection.DesignModule.Phases; len(phases) > 0 {
		summary.Phase = phases[0]
	}
	return summary, nil
}
