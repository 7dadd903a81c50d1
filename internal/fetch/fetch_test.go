package fetch

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/oauth2"

	"github.com/rpattn/csvmodels/internal/config"
	"github.com/rpattn/csvmodels/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func TestExportURLRewritesSheetLinks(t *testing.T) {
	cases := map[string]string{
		"https://docs.google.com/spreadsheets/d/abc-123/edit#gid=55":   "https://docs.google.com/spreadsheets/d/abc-123/export?format=csv&gid=55",
		"https://docs.google.com/spreadsheets/d/abc-123/edit?gid=7":    "https://docs.google.com/spreadsheets/d/abc-123/export?format=csv&gid=7",
		"https://docs.google.com/spreadsheets/d/abc-123":               "https://docs.google.com/spreadsheets/d/abc-123/export?format=csv&gid=0",
		"https://example.com/data.csv?x=1":                             "https://example.com/data.csv?x=1",
		"https://docs.google.com/spreadsheets/d/abc/export?format=csv": "https://docs.google.com/spreadsheets/d/abc/export?format=csv",
	}
	for in, want := range cases {
		got, err := ExportURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"ftp://example.com/a.csv", "not a url", "https:///path"} {
		_, err := ExportURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestFetchCSVReportsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok.csv" {
			_, _ = w.Write([]byte("a,b\n1,2\n"))
			return
		}
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	fetcher := NewCSVFetcher(srv.Client(), nil)

	payload, err := fetcher.FetchCSV(context.Background(), srv.URL+"/ok.csv")
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(payload))

	_, err = fetcher.FetchCSV(context.Background(), srv.URL+"/missing.csv")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestGoogleOAuthRefreshAndPrivateFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("grant_type") {
		case "refresh_token":
			assert.Equal(t, "stored-refresh", r.PostForm.Get("refresh_token"))
			_, _ = w.Write([]byte(`{"access_token":"fresh-access","token_type":"Bearer","expires_in":3600}`))
		case "authorization_code":
			assert.Equal(t, "the-code", r.PostForm.Get("code"))
			_, _ = w.Write([]byte(`{"access_token":"a","token_type":"Bearer","expires_in":3600,"refresh_token":"new-refresh"}`))
		default:
			http.Error(w, "bad grant", http.StatusBadRequest)
		}
	})
	mux.HandleFunc("GET /sheet.csv", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh-access" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("name\nAda\n"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	oauth := NewGoogleOAuth(googleSettings("id", "secret"), srv.Client()).
		WithEndpoint(oauth2.Endpoint{TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams})

	refresh, err := oauth.Exchange(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "new-refresh", refresh)

	dispatcher := &Dispatcher{
		OAuth:  oauth,
		Sheets: NewPrivateSheetImporter(srv.Client(), nil),
	}
	payload, err := dispatcher.Fetch(context.Background(), domain.CSVOAuthSheet{URL: srv.URL + "/sheet.csv", RefreshToken: "stored-refresh"})
	require.NoError(t, err)
	assert.Equal(t, "name\nAda\n", string(payload))
}

func TestGoogleOAuthRequiresClient(t *testing.T) {
	oauth := NewGoogleOAuth(staticSettings{}, nil)
	assert.Empty(t, oauth.AuthCodeURL())
	_, err := oauth.AccessToken(context.Background(), "r")
	assert.ErrorIs(t, err, ErrOAuthNotConfigured)
	_, err = oauth.Exchange(context.Background(), "code")
	assert.ErrorIs(t, err, ErrOAuthNotConfigured)

	configured := NewGoogleOAuth(googleSettings("id", "secret"), nil)
	assert.Contains(t, configured.AuthCodeURL(), "access_type=offline")
}

func TestGoogleOAuthReadsCredentialsPerCall(t *testing.T) {
	var (
		mu        sync.Mutex
		clientIDs []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		mu.Lock()
		clientIDs = append(clientIDs, r.PostForm.Get("client_id"))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"a","token_type":"Bearer","refresh_token":"r","expires_in":3600}`))
	}))
	defer srv.Close()

	settings := googleSettings("", "")
	oauth := NewGoogleOAuth(settings, srv.Client()).
		WithEndpoint(oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams})

	_, err := oauth.Exchange(context.Background(), "code")
	require.ErrorIs(t, err, ErrOAuthNotConfigured)

	settings[config.GoogleClientID] = "rotated-id"
	settings[config.GoogleClientSecret] = "rotated-secret"
	settings[config.GoogleRedirectURL] = "http://wizard.example/oauth/google/callback"

	_, err = oauth.Exchange(context.Background(), "code")
	require.NoError(t, err)
	assert.Contains(t, oauth.AuthCodeURL(), "client_id=rotated-id")
	assert.Contains(t, oauth.AuthCodeURL(), "redirect_uri=http%3A%2F%2Fwizard.example%2Foauth%2Fgoogle%2Fcallback")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"rotated-id"}, clientIDs)
}

type staticSettings map[string]string

func (s staticSettings) Get(name string) string { return s[name] }

func googleSettings(id, secret string) staticSettings {
	return staticSettings{
		config.GoogleClientID:     id,
		config.GoogleClientSecret: secret,
		config.GoogleRedirectURL:  config.DefaultGoogleRedirectURL,
	}
}

func TestScreendoorBuildCSVPaginates(t *testing.T) {
	var (
		mu    sync.Mutex
		pages []string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /projects/9/response_fields", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
		assert.Equal(t, "3", r.URL.Query().Get("form_id"))
		_, _ = w.Write([]byte(`[{"id":1,"label":"Name"},{"id":2,"label":"Colors"},{"id":3,"label":"Budget"}]`))
	})
	mux.HandleFunc("GET /projects/9/responses", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		mu.Lock()
		pages = append(pages, page)
		mu.Unlock()
		if page != "1" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		var buf bytes.Buffer
		buf.WriteString("[")
		for i := 0; i < screendoorPageSize; i++ {
			if i > 0 {
				buf.WriteString(",")
			}
			buf.WriteString(`{"id":1,"sequential_id":1,"submitted_at":"2024-01-02T00:00:00Z","responses":{"1":"Ada","2":{"red":true,"blue":true,"green":false},"3":1500}}`)
		}
		buf.WriteString("]")
		_, _ = w.Write(buf.Bytes())
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	formID := int64(3)
	importer := NewScreendoorImporter(srv.Client(), srv.URL+"/", nil)
	payload, err := importer.BuildCSV(context.Background(), "secret", 9, &formID)
	require.NoError(t, err)
	mu.Lock()
	assert.Equal(t, []string{"1", "2"}, pages)
	mu.Unlock()

	records, err := csv.NewReader(bytes.NewReader(payload)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, screendoorPageSize+1)
	assert.Equal(t, []string{"response_id", "sequential_id", "submitted_at", "Name", "Colors", "Budget"}, records[0])
	assert.Equal(t, []string{"1", "1", "2024-01-02T00:00:00Z", "Ada", "blue, red", "1500"}, records[1])
}

func TestDispatcherRejectsUnknownSource(t *testing.T) {
	_, err := (&Dispatcher{}).Fetch(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidSource)
}
