package ctgov

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"trial-hand/config"
	"trial-hand/providers"
)

const (
	// Backoff-Politik der Registersuche: exponentiell ab 4s, gedeckelt bei 10s.
	initialBackoff = 4 * time.Second
	maxBackoff     = 10 * time.Second

	defaultAttempts = 3
	defaultPageSize = 100
)

// HTTPError beschreibt eine Nicht-Erfolgsantwort der Register-API.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("ctgov: unerwarteter Status %d: %s", e.StatusCode, e.Body)
}

// Retryable meldet, ob der Status einen weiteren Versuch rechtfertigt.
// Client-Fehler (z.B. eine fehlerhafte Anfrage) werden sofort durchgereicht.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Fetcher implementiert das Provider-Interface für ClinicalTrials.gov.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger

	httpClient *http.Client
	sleep      func(time.Duration)
}

// NewFetcher erstellt einen neuen ClinicalTrials.gov-Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		Config:     cfg,
		Logger:     logger,
		httpClient: &http.Client{Timeout: timeout},
		sleep:      time.Sleep,
	}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return "ctgov"
}

// SearchStudies holt eine Ergebnisseite der Studiensuche. Transiente Fehler
// (Netzwerk, Timeout, 5xx) werden bis zu MaxAttempts-mal mit exponentiellem
// Backoff wiederholt; danach wird der letzte Fehler durchgereicht.
func (f *Fetcher) SearchStudies(ctx context.Context, query providers.SearchQuery, pageToken string) (*providers.StudyPage, error) {
	searchURL := f.Config.CTGovBaseURL + "?" + f.buildParams(query, pageToken).Encode()
	log := f.Logger.With(zap.String("url", searchURL))

	attempts := f.Config.MaxAttempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}

	var lastErr error
	backoff := initialBackoff
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			log.Warn("Suchanfrage fehlgeschlagen, warte vor erneutem Versuch",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			f.sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		page, err := f.doSearch(ctx, searchURL)
		if err == nil {
			log.Debug("Ergebnisseite erhalten",
				zap.Int("studies", len(page.Studies)),
				zap.Bool("has_next_page", page.NextPageToken != ""))
			return page, nil
		}
		lastErr = err

		var httpErr *HTTPError
		if errors.As(err, &httpErr) && !httpErr.Retryable() {
			log.Error("Register-API hat die Anfrage abgelehnt", zap.Int("status", httpErr.StatusCode))
			return nil, err
		}
	}

	return nil, fmt.Errorf("suche nach %d versuchen aufgegeben: %w", attempts, lastErr)
}

// doSearch führt genau einen HTTP-Versuch aus.
func (f *Fetcher) doSearch(ctx context.Context, searchURL string) (*providers.StudyPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "trial-hand/1.0")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("suchanfrage fehlgeschlagen: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var searchResp searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("such-antwort nicht lesbar: %w", err)
	}

	return &providers.StudyPage{
		Studies:       searchResp.Studies,
		NextPageToken: searchResp.NextPageToken,
	}, nil
}

// buildParams baut die Query-Parameter der Studiensuche. Jeder Filterbegriff
// wird als exakte Phrase in Anführungszeichen gesetzt; ResultsOnly wird als
// zusätzliche AND-Klausel in query.term gefaltet statt als eigener Parameter.
func (f *Fetcher) buildParams(query providers.SearchQuery, pageToken string) url.Values {
	pageSize := f.Config.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	params := url.Values{}
	params.Set("format", "json")
	params.Set("pageSize", strconv.Itoa(pageSize))

	if query.Condition != "" {
		params.Set("query.cond", quotePhrase(query.Condition))
	}
	if query.Intervention != "" {
		params.Set("query.intr", quotePhrase(query.Intervention))
	}
	if query.OtherTerms != "" {
		params.Set("query.term", quotePhrase(query.OtherTerms))
	}
	if query.ResultsOnly {
		term := "AREA[HasResults] true"
		if existing := params.Get("query.term"); existing != "" {
			term = existing + " AND " + term
		}
		params.Set("query.term", term)
	}
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}
	return params
}

// quotePhrase setzt einen Filterbegriff unverändert in Anführungszeichen.
// Kein Go-Escaping: die Register-API erwartet die Phrase wörtlich.
func quotePhrase(term string) string {
	return `"` + term + `"`
}
