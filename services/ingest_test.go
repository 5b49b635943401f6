package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"trial-hand/config"
	"trial-hand/models"
	"trial-hand/providers"
)

// fakeProvider liefert vorbereitete Ergebnisseiten in fester Reihenfolge.
type fakeProvider struct {
	pages  []*providers.StudyPage
	errs   []error
	calls  int
	tokens []string
}

func (p *fakeProvider) SearchStudies(ctx context.Context, query providers.SearchQuery, pageToken string) (*providers.StudyPage, error) {
	idx := p.calls
	p.calls++
	p.tokens = append(p.tokens, pageToken)
	if idx < len(p.errs) && p.errs[idx] != nil {
		return nil, p.errs[idx]
	}
	if idx >= len(p.pages) {
		return &providers.StudyPage{}, nil
	}
	return p.pages[idx], nil
}

func (p *fakeProvider) Name() string { return "fake" }

// fakeStore zeichnet Upserts auf und kann für einzelne IDs fehlschlagen.
type upsertCall struct {
	nctID      string
	annotation string
}

type fakeStore struct {
	calls  []upsertCall
	failOn map[string]bool
}

func (s *fakeStore) Upsert(nctID string, payload datatypes.JSON, annotation string) (uint, error) {
	if s.failOn[nctID] {
		return 0, errors.New("storage failure")
	}
	s.calls = append(s.calls, upsertCall{nctID: nctID, annotation: annotation})
	return uint(len(s.calls)), nil
}

func (s *fakeStore) storedIDs() []string {
	ids := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		ids = append(ids, c.nctID)
	}
	return ids
}

func studyDoc(nctID string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"hasResults":false,"protocolSection":{"identificationModule":{"nctId":%q},"statusModule":{"overallStatus":"RECRUITING"}}}`,
		nctID))
}

func newTestService(provider providers.Provider, store TrialStore) *IngestService {
	return NewIngestService(&config.Config{}, store, provider, zap.NewNop())
}

func TestRunRequiresAtLeastOneFilter(t *testing.T) {
	provider := &fakeProvider{}
	store := &fakeStore{}
	svc := newTestService(provider, store)

	summary, err := svc.Run(context.Background(), IngestParams{ResultsOnly: true})

	require.ErrorIs(t, err, ErrNoSearchTerms)
	assert.Zero(t, summary.Stored)
	assert.Zero(t, provider.calls, "es darf kein Netzwerkzugriff stattfinden")
	assert.Empty(t, store.calls)
}

func TestRunPaginationCompleteness(t *testing.T) {
	provider := &fakeProvider{
		pages: []*providers.StudyPage{
			{Studies: []json.RawMessage{studyDoc("NCT01"), studyDoc("NCT02")}, NextPageToken: "p2"},
			{Studies: []json.RawMessage{studyDoc("NCT03")}, NextPageToken: "p3"},
			{Studies: []json.RawMessage{studyDoc("NCT04"), studyDoc("NCT05")}},
		},
	}
	store := &fakeStore{}
	svc := newTestService(provider, store)

	summary, err := svc.Run(context.Background(), IngestParams{Condition: "diabetes"})

	require.NoError(t, err)
	assert.Equal(t, 5, summary.Stored)
	assert.Equal(t, 3, summary.Pages)
	assert.Equal(t, []string{"NCT01", "NCT02", "NCT03", "NCT04", "NCT05"}, store.storedIDs())
	// Der Token jeder Seite wird an den nächsten Abruf durchgereicht.
	assert.Equal(t, []string{"", "p2", "p3"}, provider.tokens)
}

func TestRunMaxRecordsBound(t *testing.T) {
	provider := &fakeProvider{
		pages: []*providers.StudyPage{
			{Studies: []json.RawMessage{studyDoc("NCT01"), studyDoc("NCT02"), studyDoc("NCT03")}, NextPageToken: "p2"},
			{Studies: []json.RawMessage{studyDoc("NCT04")}},
		},
	}
	store := &fakeStore{}
	svc := newTestService(provider, store)

	summary, err := svc.Run(context.Background(), IngestParams{Condition: "diabetes", MaxRecords: 2})

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Stored)
	assert.Equal(t, []string{"NCT01", "NCT02"}, store.storedIDs())
	// Das Limit greift mitten in der Seite; eine zweite Seite wird nie geholt.
	assert.Equal(t, 1, provider.calls)
}

func TestRunSkipsStudiesWithoutNctID(t *testing.T) {
	provider := &fakeProvider{
		pages: []*providers.StudyPage{
			{Studies: []json.RawMessage{
				studyDoc("NCT01"),
				json.RawMessage(`{"hasResults":true}`),
				studyDoc("NCT02"),
			}},
		},
	}
	store := &fakeStore{}
	svc := newTestService(provider, store)

	summary, err := svc.Run(context.Background(), IngestParams{Condition: "diabetes"})

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Stored)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, []string{"NCT01", "NCT02"}, store.storedIDs())
}

func TestRunIsolatesPerRecordFailures(t *testing.T) {
	provider := &fakeProvider{
		pages: []*providers.StudyPage{
			{Studies: []json.RawMessage{
				studyDoc("NCT01"),
				json.RawMessage(`{"protocolSection": "kein objekt"}`),
				studyDoc("NCT02"),
			}},
		},
	}
	store := &fakeStore{failOn: map[string]bool{"NCT02": true}}
	svc := newTestService(provider, store)

	summary, err := svc.Run(context.Background(), IngestParams{Condition: "diabetes"})

	require.NoError(t, err, "fehler an einzelnen studien brechen den lauf nicht ab")
	assert.Equal(t, 1, summary.Stored)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, []string{"NCT01"}, store.storedIDs())
}

func TestRunAbortReturnsCountSoFar(t *testing.T) {
	provider := &fakeProvider{
		pages: []*providers.StudyPage{
			{Studies: []json.RawMessage{studyDoc("NCT01"), studyDoc("NCT02")}, NextPageToken: "p2"},
		},
		errs: []error{nil, errors.New("suche nach 3 versuchen aufgegeben")},
	}
	store := &fakeStore{}
	svc := newTestService(provider, store)

	summary, err := svc.Run(context.Background(), IngestParams{Condition: "diabetes"})

	require.Error(t, err)
	assert.Equal(t, 2, summary.Stored)
	assert.Equal(t, 2, provider.calls)
}

func TestRunEmptyPageEndsRun(t *testing.T) {
	provider := &fakeProvider{
		pages: []*providers.StudyPage{{Studies: nil, NextPageToken: "ignoriert"}},
	}
	store := &fakeStore{}
	svc := newTestService(provider, store)

	summary, err := svc.Run(context.Background(), IngestParams{Condition: "diabetes"})

	require.NoError(t, err)
	assert.Zero(t, summary.Stored)
	assert.Equal(t, 1, provider.calls)
}

func TestRunPassesAnnotationToStore(t *testing.T) {
	provider := &fakeProvider{
		pages: []*providers.StudyPage{{Studies: []json.RawMessage{studyDoc("NCT01")}}},
	}
	store := &fakeStore{}
	svc := newTestService(provider, store)

	params := IngestParams{Condition: "diabetes", Intervention: "metformin", ResultsOnly: true}
	_, err := svc.Run(context.Background(), params)

	require.NoError(t, err)
	require.Len(t, store.calls, 1)
	assert.Equal(t, "condition:diabetes; intervention:metformin; has_results:true", store.calls[0].annotation)
}

func TestBuildAnnotation(t *testing.T) {
	assert.Equal(t, "condition:diabetes", BuildAnnotation(IngestParams{Condition: "diabetes"}))
	assert.Equal(t,
		"condition:diabetes; intervention:metformin; other_terms:pediatric; has_results:true",
		BuildAnnotation(IngestParams{
			Condition:    "diabetes",
			Intervention: "metformin",
			OtherTerms:   "pediatric",
			ResultsOnly:  true,
		}))
}

func TestRunProfilesContinuesAfterFailure(t *testing.T) {
	provider := &fakeProvider{
		pages: []*providers.StudyPage{
			nil, // erster Profil-Lauf schlägt fehl
			{Studies: []json.RawMessage{studyDoc("NCT01"), studyDoc("NCT02")}},
		},
		errs: []error{errors.New("registry down"), nil},
	}
	store := &fakeStore{}
	svc := newTestService(provider, store)

	profiles := []models.SearchProfile{
		{Name: "Kaputt", Condition: "asthma"},
		{Name: "Diabetes", Condition: "diabetes"},
	}
	total, err := svc.RunProfiles(context.Background(), profiles)

	// Das fehlgeschlagene Profil stoppt die übrigen nicht, wird aber gemeldet.
	require.Error(t, err)
	assert.ErrorContains(t, err, "Kaputt")
	assert.Equal(t, 2, total)
}

func TestRunProfilesAllSucceed(t *testing.T) {
	provider := &fakeProvider{
		pages: []*providers.StudyPage{
			{Studies: []json.RawMessage{studyDoc("NCT01")}},
			{Studies: []json.RawMessage{studyDoc("NCT02")}},
		},
	}
	store := &fakeStore{}
	svc := newTestService(provider, store)

	profiles := []models.SearchProfile{
		{Name: "Asthma", Condition: "asthma"},
		{Name: "Diabetes", Condition: "diabetes"},
	}
	total, err := svc.RunProfiles(context.Background(), profiles)

	require.NoError(t, err)
	assert.Equal(t, 2, total)
}
