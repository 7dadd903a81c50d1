package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderDefaultsWithoutConfigFile(t *testing.T) {
	loader, err := NewLoader(t.TempDir(), nil)
	require.NoError(t, err)

	cfg := loader.Config()
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "csvmodels", cfg.Database.DBName)
	assert.Equal(t, 2*time.Minute, cfg.Fetch.Timeout)
	assert.Empty(t, loader.Get(WizardRedirectTo))
	assert.Equal(t, DefaultGoogleRedirectURL, loader.Get(GoogleRedirectURL))
}

func TestLoaderReadsYAMLAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	yaml := `
database:
  host: db.internal
  port: 6543
google:
  client_id: yaml-client
wizard:
  redirect_to: /admin/
fetch:
  timeout: 30s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("CSVMODELS_GOOGLE_CLIENT_SECRET", "env-secret")
	t.Setenv("CSVMODELS_DATABASE_HOST", "env-host")

	loader, err := NewLoader(dir, nil)
	require.NoError(t, err)

	cfg := loader.Config()
	assert.Equal(t, "env-host", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, 30*time.Second, cfg.Fetch.Timeout)

	assert.Equal(t, "yaml-client", loader.Get(GoogleClientID))
	assert.Equal(t, "env-secret", loader.Get(GoogleClientSecret))
	assert.Equal(t, "/admin/", loader.Get(WizardRedirectTo))
}

func TestLoaderSetOverridesNamedSetting(t *testing.T) {
	loader, err := NewLoader(t.TempDir(), nil)
	require.NoError(t, err)

	loader.Set(WizardRedirectTo, "/done/")
	assert.Equal(t, "/done/", loader.Get(WizardRedirectTo))
	assert.Equal(t, "/done/", loader.Get("wizard.redirect_to"))
}

func TestLoaderRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("database: [unterminated"), 0o600))

	_, err := NewLoader(dir, nil)
	assert.Error(t, err)
}

// startWatching registers the watcher before returning so that writes made by
// the caller are observed.
func startWatching(t *testing.T, loader *Loader) {
	t.Helper()
	watcher, err := loader.watch()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		loader.run(ctx, watcher)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func writeRedirect(t *testing.T, dir, target string) {
	t.Helper()
	yaml := fmt.Sprintf("wizard:\n  redirect_to: %s\n", target)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
}

func TestLoaderReloadsWhileSettingsAreRead(t *testing.T) {
	dir := t.TempDir()
	writeRedirect(t, dir, "/first/")

	loader, err := NewLoader(dir, nil)
	require.NoError(t, err)
	startWatching(t, loader)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = loader.Get(WizardRedirectTo)
					_ = loader.Config()
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		writeRedirect(t, dir, fmt.Sprintf("/step-%d/", i))
		time.Sleep(10 * time.Millisecond)
	}
	writeRedirect(t, dir, "/final/")

	assert.Eventually(t, func() bool {
		return loader.Get(WizardRedirectTo) == "/final/"
	}, 5*time.Second, 20*time.Millisecond)

	close(stop)
	wg.Wait()
}

func TestLoaderKeepsOverridesAndLastGoodConfigAcrossReloads(t *testing.T) {
	dir := t.TempDir()
	writeRedirect(t, dir, "/first/")

	loader, err := NewLoader(dir, nil)
	require.NoError(t, err)
	loader.Set(GoogleClientID, "override-id")
	startWatching(t, loader)

	writeRedirect(t, dir, "/second/")
	require.Eventually(t, func() bool {
		return loader.Get(WizardRedirectTo) == "/second/"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "override-id", loader.Get(GoogleClientID))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("wizard: [broken"), 0o600))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, "/second/", loader.Get(WizardRedirectTo))
}

func TestLoaderWatchStopsWithContext(t *testing.T) {
	loader, err := NewLoader(t.TempDir(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loader.Watch(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
