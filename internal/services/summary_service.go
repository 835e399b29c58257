// internal/services/summary_service.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/datamarket-backend/internal/config"
	"github.com/javajoker/datamarket-backend/internal/content"
)

const ellipsis = "…"

// MetadataResolver loads the metadata document behind a content uri.
type MetadataResolver interface {
	Resolve(ctx context.Context, uri string) (*content.Metadata, error)
}

type SummaryService struct {
	config config.SummaryConfig
	client *http.Client
}

type summaryRequest struct {
	Model    string `json:"model,omitempty"`
	Input    string `json:"input"`
	MaxChars int    `json:"max_chars"`
}

type summaryResponse struct {
	Summary string `json:"summary"`
}

func NewSummaryService(cfg config.SummaryConfig) *SummaryService {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 280
	}
	return &SummaryService{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Summarize asks the summarizer endpoint for a short summary of text. Any
// failure, or an endpoint that is not configured, falls back to Truncate.
func (s *SummaryService) Summarize(ctx context.Context, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if s.config.Endpoint == "" {
		return Truncate(text, s.config.MaxChars)
	}

	summary, err := s.requestSummary(ctx, text)
	if err != nil {
		logrus.WithError(err).Warn("Summarizer unavailable, truncating instead")
		return Truncate(text, s.config.MaxChars)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return Truncate(text, s.config.MaxChars)
	}
	return Truncate(summary, s.config.MaxChars)
}

func (s *SummaryService) requestSummary(ctx context.Context, text string) (string, error) {
	payload, err := json.Marshal(summaryRequest{
		Model:    s.config.Model,
		Input:    text,
		MaxChars: s.config.MaxChars,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build summary request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("summary request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("summarizer returned %s", resp.Status)
	}

	var out summaryResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode summary: %w", err)
	}
	return out.Summary, nil
}

// Truncate shortens text to at most max runes, cutting at the last word
// boundary and appending an ellipsis. The result only depends on its input.
func Truncate(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}

	runes := []rune(text)
	cut := runes[:max-1]
	if i := lastSpace(cut); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRightFunc(string(cut), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}) + ellipsis
}

func lastSpace(rs []rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if unicode.IsSpace(rs[i]) {
			return i
		}
	}
	return -1
}
