package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var sheetPathPattern = regexp.MustCompile(`^/spreadsheets/d/([A-Za-z0-9_-]+)`)

// CSVFetcher downloads CSV (or XLSX) payloads from public URLs.
type CSVFetcher struct {
	client *http.Client
	logger *zap.Logger
}

func NewCSVFetcher(client *http.Client, logger *zap.Logger) *CSVFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVFetcher{client: client, logger: logger}
}

// FetchCSV retrieves the document at rawURL. Google Sheets share links are
// rewritten to their CSV export endpoint first.
func (f *CSVFetcher) FetchCSV(ctx context.Context, rawURL string) ([]byte, error) {
	target, err := ExportURL(rawURL)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("fetching csv", zap.String("url", target))

	payload, err := get(ctx, f.client, target, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch csv: %w", err)
	}
	return payload, nil
}

// ExportURL validates rawURL and maps Google Sheets document links to
// /spreadsheets/d/<id>/export?format=csv&gid=<gid>. Other URLs pass through.
func ExportURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("url %q must use http or https", rawURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	if u.Host != "docs.google.com" {
		return u.String(), nil
	}

	match := sheetPathPattern.FindStringSubmatch(u.Path)
	if match == nil || strings.HasSuffix(u.Path, "/export") {
		return u.String(), nil
	}

	gid := u.Query().Get("gid")
	if gid == "" && strings.HasPrefix(u.Fragment, "gid=") {
		gid = strings.TrimPrefix(u.Fragment, "gid=")
	}
	if gid == "" {
		gid = "0"
	}

	export := url.URL{
		Scheme: "https",
		Host:   u.Host,
		Path:   fmt.Sprintf("/spreadsheets/d/%s/export", match[1]),
	}
	query := url.Values{}
	query.Set("format", "csv")
	query.Set("gid", gid)
	export.RawQuery = query.Encode()
	return export.String(), nil
}
