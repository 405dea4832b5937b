// Package scan is the attachment scanning integration point. The shipped
// scanner is a placeholder: a filename heuristic plus a short delay, not
// content inspection. Swap in a real scanning service before trusting it
// with anything.
package scan

import (
	"context"
	"strings"
	"time"

	"github.com/4xmen/peyk/internal/models"
)

type Scanner interface {
	Scan(ctx context.Context, fileName string) (models.ScanStatus, error)
}

// KeywordScanner flags files whose name contains a known-bad keyword.
type KeywordScanner struct {
	// Delay imitates the latency of a real scanning round-trip.
	Delay time.Duration
}

func NewKeywordScanner() *KeywordScanner {
	return &KeywordScanner{Delay: 500 * time.Millisecond}
}

var badKeywords = []string{"malware", "virus", "trojan", "ransomware"}

func (s *KeywordScanner) Scan(ctx context.Context, fileName string) (models.ScanStatus, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return models.ScanPending, ctx.Err()
		}
	}

	lower := strings.ToLower(fileName)
	for _, keyword := range badKeywords {
		if strings.Contains(lower, keyword) {
			return models.ScanFailed, nil
		}
	}
	return models.ScanPassed, nil
}
