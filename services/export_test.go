package services

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"trial-hand/config"
	"trial-hand/models"
)

// fakeSource liefert vorbereitete Studien für die Exporte.
type fakeSource struct {
	trials []models.Trial
	err    error
}

func (s *fakeSource) ListAll() ([]models.Trial, error) {
	return s.trials, s.err
}

func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }

func sampleTrials() []models.Trial {
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return []models.Trial{
		{
			ID:            1,
			NctID:         "NCT01",
			Data:          datatypes.JSON(`{"hasResults":true,"protocolSection":{"identificationModule":{"nctId":"NCT01"}}}`),
			HasResults:    boolPtr(true),
			OverallStatus: strPtr("COMPLETED"),
			Phase:         strPtr("PHASE2"),
			SearchTerms:   "condition:diabetes",
			CreatedAt:     ts,
			LastUpdatedAt: ts,
		},
		{
			ID:            2,
			NctID:         "NCT02",
			Data:          datatypes.JSON(`{"hasResults":false}`),
			SearchTerms:   "condition:diabetes; has_results:true",
			CreatedAt:     ts,
			LastUpdatedAt: ts.Add(time.Hour),
		},
	}
}

func newTestExportService(source TrialSource) *ExportService {
	return NewExportService(&config.Config{}, source, nil, zap.NewNop())
}

func TestExportCSVWritesHeaderAndRows(t *testing.T) {
	svc := newTestExportService(&fakeSource{trials: sampleTrials()})
	path := filepath.Join(t.TempDir(), "trials.csv")

	rows, err := svc.ExportCSV(path)
	require.NoError(t, err)
	assert.Equal(t, 2, rows)

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, []string{
		"id", "nct_id", "data", "has_results", "overall_status", "phase",
		"search_terms", "created_at", "last_updated_at",
	}, records[0])

	assert.Equal(t, "1", records[1][0])
	assert.Equal(t, "NCT01", records[1][1])
	assert.Equal(t, "true", records[1][3])
	assert.Equal(t, "COMPLETED", records[1][4])
	assert.Equal(t, "PHASE2", records[1][5])
	assert.Equal(t, "condition:diabetes", records[1][6])

	// Abgeleitete Spalten ohne Wert bleiben leere Zellen.
	assert.Equal(t, "", records[2][3])
	assert.Equal(t, "", records[2][4])
}

func TestExportJSONWritesOneFilePerTrial(t *testing.T) {
	svc := newTestExportService(&fakeSource{trials: sampleTrials()})
	dir := filepath.Join(t.TempDir(), "json_files")

	files, err := svc.ExportJSON(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, files)

	data, err := os.ReadFile(filepath.Join(dir, "NCT01.json"))
	require.NoError(t, err)

	// Hübsch formatiert, aber inhaltlich identisch zum Payload.
	assert.Contains(t, string(data), "\n    ")
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, true, payload["hasResults"])

	_, err = os.Stat(filepath.Join(dir, "NCT02.json"))
	assert.NoError(t, err)
}

func TestExportJSONCreatesMissingDirectory(t *testing.T) {
	svc := newTestExportService(&fakeSource{trials: sampleTrials()[:1]})
	dir := filepath.Join(t.TempDir(), "a", "b", "json_files")

	_, err := svc.ExportJSON(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestExportCSVPropagatesSourceError(t *testing.T) {
	svc := newTestExportService(&fakeSource{err: assert.AnError})
	_, err := svc.ExportCSV(filepath.Join(t.TempDir(), "trials.csv"))
	assert.ErrorIs(t, err, assert.AnError)
}
