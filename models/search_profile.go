package models

// SearchProfile repräsentiert eine gespeicherte, wiederverwendbare
// Filterkombination für den Scrape-Lauf.
type SearchProfile struct {
	ID   uint   `json:"id" gorm:"primaryKey"`
	Name string `json:"name" gorm:"uniqueIndex;not null"` // z.B. "Diabetes (Metformin)"

	Condition    string `json:"condition,omitempty"`
	Intervention string `json:"intervention,omitempty"`
	OtherTerms   string `json:"other_terms,omitempty"`
	ResultsOnly  bool   `json:"results_only"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (SearchProfile) TableName() string {
	return "search_profiles"
}
