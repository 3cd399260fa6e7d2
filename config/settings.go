package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Settings represents the gateway configuration persisted to disk. Every
// field can also be driven by an environment variable (applied after the
// file load, env winning) so container deployments need no config file.
type Settings struct {
	Server      ServerSettings      `json:"server"`
	Media       MediaSettings       `json:"media"`
	MediaViewer MediaViewerSettings `json:"mediaviewer"`
	Delivery    DeliverySettings    `json:"delivery"`
	Log         LogConfig           `json:"log"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// AppName is the route prefix all waiter endpoints live under.
	AppName string `json:"appName"`
	// SecretFile holds the path-hashing secret; generated once if missing.
	SecretFile string `json:"secretFile"`
	// ExternalBaseURL is the scheme://host:port clients reach the waiter on,
	// used when building absolute file and stream links.
	ExternalBaseURL string `json:"externalBaseUrl"`
}

type MediaSettings struct {
	BasePath string `json:"basePath"`
	// MediaDirs are the subdirectories of BasePath the health check requires.
	MediaDirs       []string `json:"mediaDirs"`
	IgnoreDirChecks bool     `json:"ignoreDirChecks"`
	// MinimumFileSize filters out non-video artifacts during enumeration.
	MinimumFileSize      int64    `json:"minimumFileSize"`
	StreamableExtensions []string `json:"streamableExtensions"`
	SubtitleExtensions   []string `json:"subtitleExtensions"`
	// EncodedSuffix marks files that finished web transcoding; files without
	// it are not ready to serve.
	EncodedSuffix string `json:"encodedSuffix"`
	// WalkLimit caps how many files one enumeration may visit.
	WalkLimit int `json:"walkLimit"`
}

type MediaViewerSettings struct {
	BaseURL              string `json:"baseUrl"`
	ExternalBaseURL      string `json:"externalBaseUrl"`
	Username             string `json:"username"`
	Password             string `json:"password"`
	VerifyTLS            bool   `json:"verifyTls"`
	TimeoutSeconds       int    `json:"timeoutSeconds"`
	RetryAttempts        int    `json:"retryAttempts"`
	RetryIntervalSeconds int    `json:"retryIntervalSeconds"`
}

// Timeout returns the outbound request timeout as a duration.
func (m MediaViewerSettings) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// RetryInterval returns the fixed backoff between token fetch attempts.
func (m MediaViewerSettings) RetryInterval() time.Duration {
	return time.Duration(m.RetryIntervalSeconds) * time.Second
}

type DeliverySettings struct {
	// UseNginx selects accelerated delivery: the waiter answers 206 with an
	// X-Accel-Redirect header and nginx streams the bytes from disk.
	UseNginx bool `json:"useNginx"`
	// NginxLocation is the internal location block mapped to BasePath.
	NginxLocation string `json:"nginxLocation"`
	// DefaultRangeBytes bounds responses to range-less requests.
	DefaultRangeBytes int64 `json:"defaultRangeBytes"`
	// BandwidthLimitMBps caps direct-mode serving, shared fairly across
	// client IPs. 0 disables the cap.
	BandwidthLimitMBps float64 `json:"bandwidthLimitMBps"`
}

// LogConfig configures the rotating file log.
type LogConfig struct {
	File       string `json:"file"`
	Level      string `json:"level"`
	MaxSize    int    `json:"maxSize"`
	MaxAge     int    `json:"maxAge"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

// DefaultSettings returns sane defaults for a fresh install.
func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{
			Host:            "127.0.0.1",
			Port:            5000,
			AppName:         "/waiter",
			SecretFile:      "cache/secret.txt",
			ExternalBaseURL: "",
		},
		Media: MediaSettings{
			BasePath:             "/path/to/base/folder",
			MediaDirs:            []string{"Movies", "tv shows"},
			MinimumFileSize:      20_000_000,
			StreamableExtensions: []string{".mp4"},
			SubtitleExtensions:   []string{".vtt", ".srt"},
			EncodedSuffix:        "mv-encoded",
			WalkLimit:            10000,
		},
		MediaViewer: MediaViewerSettings{
			BaseURL:              "http://mediaviewer:8000/mediaviewer",
			ExternalBaseURL:      "http://localhost:8000/mediaviewer",
			VerifyTLS:            true,
			TimeoutSeconds:       3,
			RetryAttempts:        5,
			RetryIntervalSeconds: 1,
		},
		Delivery: DeliverySettings{
			UseNginx:          true,
			NginxLocation:     "/download",
			DefaultRangeBytes: 10_000_000,
		},
		Log: LogConfig{
			File:       "cache/logs/waiter.log",
			Level:      "info",
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
	}
}

// Manager loads and persists settings to a JSON file.
type Manager struct {
	path string
}

func NewManager(configPath string) *Manager {
	return &Manager{path: configPath}
}

// Load reads settings from disk (creating defaults if missing) and applies
// environment overrides on top.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	settings := DefaultSettings()
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		if err := m.Save(settings); err != nil {
			return Settings{}, err
		}
	} else {
		f, err := os.Open(m.path)
		if err != nil {
			return Settings{}, err
		}
		defer f.Close()
		if err := json.NewDecoder(f).Decode(&settings); err != nil {
			return Settings{}, fmt.Errorf("decode %s: %w", m.path, err)
		}
	}
	applyEnvOverrides(&settings)
	return settings, nil
}

// Save writes settings as indented JSON, creating parent directories.
func (m *Manager) Save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if dir := filepath.Dir(m.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	buf, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, buf, 0o644)
}

// Validate reports fatal misconfiguration. The process must not serve
// traffic when this fails.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Media.BasePath) == "" {
		return errors.New("media base path is required")
	}
	if strings.TrimSpace(s.MediaViewer.Username) == "" || strings.TrimSpace(s.MediaViewer.Password) == "" {
		return errors.New("mediaviewer credentials are required")
	}
	if !s.Media.IgnoreDirChecks {
		if len(s.Media.MediaDirs) == 0 {
			return errors.New("media dirs are required unless dir checks are disabled")
		}
		for _, dir := range s.Media.MediaDirs {
			full := filepath.Join(s.Media.BasePath, dir)
			info, err := os.Stat(full)
			if err != nil || !info.IsDir() {
				return fmt.Errorf("media dir %s does not exist", full)
			}
		}
	}
	return nil
}

func applyEnvOverrides(s *Settings) {
	envString("MW_HOST", &s.Server.Host)
	envInt("MW_PORT", &s.Server.Port)
	envString("MW_APP_NAME", &s.Server.AppName)
	envString("MW_SECRET_FILE", &s.Server.SecretFile)
	envString("MW_EXTERNAL_BASE_URL", &s.Server.ExternalBaseURL)

	envString("MW_BASE_PATH", &s.Media.BasePath)
	envStringSlice("MW_MEDIA_DIRS", &s.Media.MediaDirs)
	envBool("MW_IGNORE_MEDIA_DIR_CHECKS", &s.Media.IgnoreDirChecks)
	envInt64("MW_MINIMUM_FILE_SIZE", &s.Media.MinimumFileSize)
	envStringSlice("MW_STREAMABLE_EXTENSIONS", &s.Media.StreamableExtensions)
	envStringSlice("MW_SUBTITLE_EXTENSIONS", &s.Media.SubtitleExtensions)
	envString("MEDIAVIEWER_SUFFIX", &s.Media.EncodedSuffix)
	envInt("MW_WALK_LIMIT", &s.Media.WalkLimit)

	envString("MW_MEDIAVIEWER_BASE_URL", &s.MediaViewer.BaseURL)
	envString("MW_EXTERNAL_MEDIAVIEWER_BASE_URL", &s.MediaViewer.ExternalBaseURL)
	envString("WAITER_USERNAME", &s.MediaViewer.Username)
	envString("WAITER_PASSWORD", &s.MediaViewer.Password)
	envBool("MW_VERIFY_REQUESTS", &s.MediaViewer.VerifyTLS)
	envInt("MW_REQUESTS_TIMEOUT", &s.MediaViewer.TimeoutSeconds)
	envInt("MW_RETRY_ATTEMPTS", &s.MediaViewer.RetryAttempts)
	envInt("MW_RETRY_INTERVAL", &s.MediaViewer.RetryIntervalSeconds)

	envBool("MW_USE_NGINX", &s.Delivery.UseNginx)
	envString("MW_NGINX_LOCATION", &s.Delivery.NginxLocation)
	envInt64("MW_DEFAULT_RANGE_BYTES", &s.Delivery.DefaultRangeBytes)

	envString("MW_LOG_FILE", &s.Log.File)
	envString("MW_LOG_LEVEL", &s.Log.Level)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envStringSlice(key string, dst *[]string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	*dst = out
}

func envBool(key string, dst *bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	// A typo like "tru" must not flip security-sensitive toggles; only
	// recognized values override the configured default.
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "t", "yes", "y", "1":
		*dst = true
	case "false", "f", "no", "n", "0":
		*dst = false
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			*dst = n
		}
	}
}
