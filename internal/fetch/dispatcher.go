package fetch

import (
	"context"
	"fmt"

	"github.com/rpattn/csvmodels/internal/domain"
)

// Dispatcher retrieves the current payload of any source variant.
type Dispatcher struct {
	CSV        *CSVFetcher
	OAuth      *GoogleOAuth
	Sheets     *PrivateSheetImporter
	Screendoor *ScreendoorImporter
}

// Fetch downloads the data behind src.
func (d *Dispatcher) Fetch(ctx context.Context, src domain.Source) ([]byte, error) {
	switch s := src.(type) {
	case domain.CSVOAuthSheet:
		accessToken, err := d.OAuth.AccessToken(ctx, s.RefreshToken)
		if err != nil {
			return nil, err
		}
		return d.Sheets.GetCSVFromURL(ctx, s.URL, accessToken)
	case domain.CSVDirect:
		return d.CSV.FetchCSV(ctx, s.URL)
	case domain.FormService:
		return d.Screendoor.BuildCSV(ctx, s.APIKey, s.ProjectID, s.FormID)
	default:
		return nil, fmt.Errorf("fetch %T: %w", src, domain.ErrInvalidSource)
	}
}
