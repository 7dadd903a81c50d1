package domain

import (
	"fmt"
	"strings"
)

// SourceKind discriminates the persisted source descriptor.
type SourceKind string

const (
	SourceKindCSVDirect     SourceKind = "csv"
	SourceKindCSVOAuthSheet SourceKind = "google_sheet"
	SourceKindFormService   SourceKind = "screendoor"
)

// Source identifies where a dynamic model pulls its rows from. The set of
// implementations is closed: CSVDirect, CSVOAuthSheet and FormService.
type Source interface {
	Kind() SourceKind
	isSource()
}

// CSVDirect is a publicly reachable CSV URL.
type CSVDirect struct {
	URL string
}

// CSVOAuthSheet is a private Google sheet read with a stored refresh token.
type CSVOAuthSheet struct {
	URL          string
	RefreshToken string
}

// FormService is a Screendoor project export.
type FormService struct {
	APIKey    string
	ProjectID int64
	FormID    *int64
}

func (CSVDirect) Kind() SourceKind     { return SourceKindCSVDirect }
func (CSVOAuthSheet) Kind() SourceKind { return SourceKindCSVOAuthSheet }
func (FormService) Kind() SourceKind   { return SourceKindFormService }

func (CSVDirect) isSource()     {}
func (CSVOAuthSheet) isSource() {}
func (FormService) isSource()   {}

// SourceColumns is the flat storage form of a Source.
type SourceColumns struct {
	Kind                  string
	CSVURL                string
	CSVGoogleRefreshToken string
	SDAPIKey              string
	SDProjectID           *int64
	SDFormID              *int64
}

// FlattenSource converts a source into its storage columns.
func FlattenSource(src Source) (SourceColumns, error) {
	switch s := src.(type) {
	case CSVDirect:
		return SourceColumns{Kind: string(s.Kind()), CSVURL: s.URL}, nil
	case CSVOAuthSheet:
		return SourceColumns{Kind: string(s.Kind()), CSVURL: s.URL, CSVGoogleRefreshToken: s.RefreshToken}, nil
	case FormService:
		projectID := s.ProjectID
		return SourceColumns{Kind: string(s.Kind()), SDAPIKey: s.APIKey, SDProjectID: &projectID, SDFormID: s.FormID}, nil
	default:
		return SourceColumns{}, fmt.Errorf("%w: %T", ErrInvalidSource, src)
	}
}

// Decode rebuilds the Source variant, rejecting rows where the discriminator
// and the populated columns disagree.
func (c SourceColumns) Decode() (Source, error) {
	hasCSV := strings.TrimSpace(c.CSVURL) != ""
	hasToken := strings.TrimSpace(c.CSVGoogleRefreshToken) != ""
	hasSD := strings.TrimSpace(c.SDAPIKey) != ""

	switch SourceKind(c.Kind) {
	case SourceKindCSVDirect:
		if hasCSV && !hasToken && !hasSD {
			return CSVDirect{URL: c.CSVURL}, nil
		}
	case SourceKindCSVOAuthSheet:
		if hasCSV && hasToken && !hasSD {
			return CSVOAuthSheet{URL: c.CSVURL, RefreshToken: c.CSVGoogleRefreshToken}, nil
		}
	case SourceKindFormService:
		if hasSD && c.SDProjectID != nil && !hasCSV {
			return FormService{APIKey: c.SDAPIKey, ProjectID: *c.SDProjectID, FormID: c.SDFormID}, nil
		}
	}
	return nil, fmt.Errorf("%w: kind %q", ErrInvalidSource, c.Kind)
}
