package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/rpattn/csvmodels/internal/db"
)

// Setting names consulted at request time. They are resolved on every call,
// so edits to config.yaml apply without a restart.
const (
	GoogleClientID     = "GOOGLE_CLIENT_ID"
	GoogleClientSecret = "GOOGLE_CLIENT_SECRET"
	GoogleRedirectURL  = "GOOGLE_REDIRECT_URL"
	WizardRedirectTo   = "CSV_MODELS_WIZARD_REDIRECT_TO"
)

// settingKeys maps setting names to their viper keys.
var settingKeys = map[string]string{
	GoogleClientID:     "google.client_id",
	GoogleClientSecret: "google.client_secret",
	GoogleRedirectURL:  "google.redirect_url",
	WizardRedirectTo:   "wizard.redirect_to",
}

// DefaultGoogleRedirectURL is the wizard's own OAuth callback on the default
// listen address. Deployments on another host or port must override it.
const DefaultGoogleRedirectURL = "http://localhost:8080/oauth/google/callback"

// Config is the fully resolved application configuration.
type Config struct {
	Database   db.Config
	HTTP       HTTPConfig
	Screendoor ScreendoorConfig
	Fetch      FetchConfig
	Session    SessionConfig
}

type HTTPConfig struct {
	Addr         string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type ScreendoorConfig struct {
	BaseURL string
}

type FetchConfig struct {
	Timeout time.Duration
}

type SessionConfig struct {
	TTL          time.Duration
	CookieSecure bool
}

// Loader owns the current viper instance. A reload builds a new instance and
// swaps it in under mu; viper itself is not safe for concurrent use, so the
// live instance is never re-read in place.
type Loader struct {
	configPath string
	logger     *zap.Logger

	mu        sync.RWMutex
	v         *viper.Viper
	overrides map[string]string
}

// NewLoader reads .env and config.yaml from configPath. A missing config file
// is not an error; defaults and environment variables apply.
func NewLoader(configPath string, logger *zap.Logger) (*Loader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to load .env file", zap.Error(err))
	}

	v, found, err := readConfig(configPath)
	if err != nil {
		return nil, err
	}
	if found {
		logger.Info("loaded config", zap.String("file", v.ConfigFileUsed()))
	} else {
		logger.Info("no config.yaml found, using defaults and env vars", zap.String("path", configPath))
	}

	return &Loader{configPath: configPath, logger: logger, v: v, overrides: map[string]string{}}, nil
}

// readConfig builds a fresh viper instance. found reports whether a config
// file was read.
func readConfig(configPath string) (*viper.Viper, bool, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.SetEnvPrefix("CSVMODELS") // map env vars like CSVMODELS_DATABASE_HOST
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, false, fmt.Errorf("failed to read config: %w", err)
		}
		return v, false, nil
	}
	return v, true, nil
}

func setDefaults(v *viper.Viper) {
	defaults := db.DefaultConfig()
	v.SetDefault("database.host", defaults.Host)
	v.SetDefault("database.port", defaults.Port)
	v.SetDefault("database.user", defaults.User)
	v.SetDefault("database.password", defaults.Password)
	v.SetDefault("database.dbname", defaults.DBName)
	v.SetDefault("database.sslmode", defaults.SSLMode)
	v.SetDefault("database.max_conns", defaults.MaxConns)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("http.read_timeout", 15*time.Second)
	// Imports run inside the request, so writes get a generous budget.
	v.SetDefault("http.write_timeout", 5*time.Minute)

	v.SetDefault("google.redirect_url", DefaultGoogleRedirectURL)
	v.SetDefault("screendoor.base_url", "https://screendoor.dobt.co/api")
	v.SetDefault("fetch.timeout", 2*time.Minute)
	v.SetDefault("session.ttl", 14*24*time.Hour)
	v.SetDefault("session.cookie_secure", false)
	v.SetDefault("wizard.redirect_to", "")

	// AutomaticEnv only resolves keys viper already knows about.
	v.SetDefault("google.client_id", "")
	v.SetDefault("google.client_secret", "")
}

// Config resolves the current configuration snapshot.
func (l *Loader) Config() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v := l.v

	return Config{
		Database: db.Config{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.dbname"),
			SSLMode:  v.GetString("database.sslmode"),
			MaxConns: v.GetInt32("database.max_conns"),
		},
		HTTP: HTTPConfig{
			Addr:         v.GetString("http.addr"),
			CORSOrigins:  v.GetStringSlice("http.cors_origins"),
			ReadTimeout:  v.GetDuration("http.read_timeout"),
			WriteTimeout: v.GetDuration("http.write_timeout"),
		},
		Screendoor: ScreendoorConfig{BaseURL: v.GetString("screendoor.base_url")},
		Fetch:      FetchConfig{Timeout: v.GetDuration("fetch.timeout")},
		Session: SessionConfig{
			TTL:          v.GetDuration("session.ttl"),
			CookieSecure: v.GetBool("session.cookie_secure"),
		},
	}
}

// Get resolves a named setting such as CSV_MODELS_WIZARD_REDIRECT_TO. Unknown
// names are looked up as viper keys directly.
func (l *Loader) Get(name string) string {
	key, ok := settingKeys[name]
	if !ok {
		key = strings.ToLower(name)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.v.GetString(key)
}

// Set overrides a named setting in memory. Overrides survive reloads.
func (l *Loader) Set(name, value string) {
	key, ok := settingKeys[name]
	if !ok {
		key = strings.ToLower(name)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overrides[key] = value
	l.v.Set(key, value)
}

// Watch reloads config.yaml whenever it is written, created or replaced in
// the config directory, until ctx is done.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := l.watch()
	if err != nil {
		return err
	}
	l.run(ctx, watcher)
	return nil
}

// watch registers the config directory. Editors often replace the file
// rather than write it, so the directory is watched instead of the file.
func (l *Loader) watch() (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Add(l.configPath); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch config dir %s: %w", l.configPath, err)
	}
	return watcher, nil
}

func (l *Loader) run(ctx context.Context, watcher *fsnotify.Watcher) {
	defer func() { _ = watcher.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isConfigFile(event.Name) || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			l.reload(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (l *Loader) reload(event fsnotify.Event) {
	// Truncation is the first half of most rewrites.
	if info, err := os.Stat(event.Name); err != nil || info.Size() == 0 {
		return
	}
	v, found, err := readConfig(l.configPath)
	if err != nil {
		// The previous settings stay live until the file parses again.
		l.logger.Warn("failed to reload config", zap.String("file", event.Name), zap.Error(err))
		return
	}
	if !found {
		return
	}

	l.mu.Lock()
	for key, value := range l.overrides {
		v.Set(key, value)
	}
	l.v = v
	l.mu.Unlock()

	l.logger.Info("config file changed", zap.String("file", event.Name), zap.String("op", event.Op.String()))
}

func isConfigFile(name string) bool {
	switch filepath.Base(name) {
	case "config.yaml", "config.yml":
		return true
	}
	return false
}
