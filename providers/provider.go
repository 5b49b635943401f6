package providers

import (
	"context"
	"encoding/json"
)

// SearchQuery bündelt die Filterbegriffe eines Scrape-Laufs. Leere Felder
// werden nicht an die API übertragen.
type SearchQuery struct {
	Condition    string
	Intervention string
	OtherTerms   string
	ResultsOnly  bool
}

// IsEmpty meldet, ob keinerlei Filterbegriff gesetzt ist.
func (q SearchQuery) IsEmpty() bool {
	return q.Condition == "" && q.Intervention == "" && q.OtherTerms == ""
}

// StudyPage ist eine Ergebnisseite der Registersuche. Die Studien bleiben
// rohe JSON-Dokumente, damit sie unverändert gespeichert werden können.
type StudyPage struct {
	Studies       []json.RawMessage
	NextPageToken string
}

// Provider ist das Interface, das jede Studienregister-Quelle implementieren muss.
type Provider interface {
	// SearchStudies holt genau eine Ergebnisseite; pageToken ist beim ersten
	// Aufruf leer und stammt danach aus StudyPage.NextPageToken.
	SearchStudies(ctx context.Context, query SearchQuery, pageToken string) (*StudyPage, error)

	// Name gibt den eindeutigen Namen der Quelle zurück (z.B. "ctgov").
	Name() string
}
