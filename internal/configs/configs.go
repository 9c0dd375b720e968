/*
Package configs loads the application's configuration from environment variables.

Only server settings are validated at startup. Secrets used by individual request
handlers (admin credentials, upload provider keys, public client config) may be unset;
the endpoints that need them report a server configuration error instead.
*/
package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig contains all configuration parameters required for the application to run.
type AppConfig struct {
	// General Server Settings
	Environment string
	Port        int

	// Security Settings
	AllowedOrigins []string
	JWTSecret      string

	// Admin credential check. AdminPass may be plaintext or a bcrypt hash.
	AdminUser string
	AdminPass string

	// Database Settings. Empty selects the in-memory store.
	DatabaseDSN string

	// Upload Settings
	UploadProvider    string
	B2KeyID           string
	B2AppKey          string
	B2BucketID        string
	B2APIURL          string
	S3BucketName      string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	// Public client configuration served by the config endpoint.
	Public PublicConfig

	// Cache Edge Settings
	OriginURL     string
	CacheVersion  string
	CacheDir      string
	CacheCDNHosts []string
	AppShell      string
	OriginTimeout time.Duration
	CacheManifest []string
}

// PublicConfig is the client SDK configuration. None of it is secret, but all of it
// is needed before the client can start.
type PublicConfig struct {
	APIKey            string `json:"apiKey"`
	AuthDomain        string `json:"authDomain"`
	ProjectID         string `json:"projectId"`
	StorageBucket     string `json:"storageBucket"`
	MessagingSenderID string `json:"messagingSenderId"`
	AppID             string `json:"appId"`
}

// Complete reports whether every field is set.
func (p PublicConfig) Complete() bool {
	return p.APIKey != "" && p.AuthDomain != "" && p.ProjectID != "" &&
		p.StorageBucket != "" && p.MessagingSenderID != "" && p.AppID != ""
}

// IsDevelopment reports whether the server runs in development mode.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// LoadConfig reads and parses the application configuration from environment variables.
// It provides default values for each configuration item and performs necessary type conversions and validation.
func LoadConfig() (*AppConfig, error) {
	cfg := &AppConfig{}

	// --- General Server Settings ---
	cfg.Environment = os.Getenv("ENVIRONMENT")
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	portStr := os.Getenv("PORT")
	if portStr == "" {
		portStr = "8080"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT environment variable: %w", err)
	}
	cfg.Port = port

	if cfg.Port < 1024 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", cfg.Port, 1024, 65535)
	}

	// --- Security Settings ---
	cfg.AllowedOrigins = splitList(os.Getenv("ALLOWED_ORIGINS"))

	jwtSecret := os.Getenv("JWT_SECRET")
	if cfg.IsDevelopment() {
		if jwtSecret == "" {
			jwtSecret = "your_default_insecure_secret_key_change_me"
		}
	} else if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required in %s environment for security", cfg.Environment)
	}
	cfg.JWTSecret = jwtSecret

	cfg.AdminUser = os.Getenv("ADMIN_USER")
	cfg.AdminPass = os.Getenv("ADMIN_PASS")

	// --- Database Settings ---
	cfg.DatabaseDSN = os.Getenv("DATABASE_URL")
	if cfg.DatabaseDSN == "" && !cfg.IsDevelopment() {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required in %s environment", cfg.Environment)
	}

	// --- Upload Settings ---
	cfg.UploadProvider = strings.ToLower(os.Getenv("UPLOAD_PROVIDER"))
	if cfg.UploadProvider == "" {
		cfg.UploadProvider = "b2"
	}
	if cfg.UploadProvider != "b2" && cfg.UploadProvider != "s3" {
		return nil, fmt.Errorf("invalid UPLOAD_PROVIDER %q: want b2 or s3", cfg.UploadProvider)
	}
	cfg.B2KeyID = os.Getenv("B2_KEY_ID")
	cfg.B2AppKey = os.Getenv("B2_APP_KEY")
	cfg.B2BucketID = os.Getenv("B2_BUCKET_ID")
	cfg.B2APIURL = os.Getenv("B2_API_URL")
	cfg.S3BucketName = os.Getenv("S3_BUCKET_NAME")
	cfg.S3Endpoint = os.Getenv("S3_ENDPOINT")
	cfg.S3AccessKeyID = os.Getenv("S3_ACCESS_KEY_ID")
	cfg.S3SecretAccessKey = os.Getenv("S3_SECRET_ACCESS_KEY")

	// --- Public Client Config ---
	cfg.Public = PublicConfig{
		APIKey:            os.Getenv("PUBLIC_API_KEY"),
		AuthDomain:        os.Getenv("PUBLIC_AUTH_DOMAIN"),
		ProjectID:         os.Getenv("PUBLIC_PROJECT_ID"),
		StorageBucket:     os.Getenv("PUBLIC_STORAGE_BUCKET"),
		MessagingSenderID: os.Getenv("PUBLIC_MESSAGING_SENDER_ID"),
		AppID:             os.Getenv("PUBLIC_APP_ID"),
	}

	// --- Cache Edge Settings ---
	cfg.OriginURL = os.Getenv("ORIGIN_URL")
	if cfg.OriginURL == "" {
		if !cfg.IsDevelopment() {
			return nil, fmt.Errorf("ORIGIN_URL environment variable is required in %s environment", cfg.Environment)
		}
		cfg.OriginURL = "http://localhost:5173"
	}

	cfg.CacheVersion = os.Getenv("CACHE_VERSION")
	if cfg.CacheVersion == "" {
		cfg.CacheVersion = "dospill-cache-v1"
	}
	cfg.CacheDir = os.Getenv("CACHE_DIR")
	cfg.CacheCDNHosts = splitList(os.Getenv("CACHE_CDN_HOSTS"))
	if len(cfg.CacheCDNHosts) == 0 {
		cfg.CacheCDNHosts = []string{"fonts.googleapis.com", "fonts.gstatic.com", "www.gstatic.com"}
	}
	cfg.AppShell = os.Getenv("APP_SHELL")
	// Left nil when unset so the controller falls back to its default manifest.
	if manifest := splitList(os.Getenv("CACHE_MANIFEST")); len(manifest) > 0 {
		cfg.CacheManifest = manifest
	}

	timeoutStr := os.Getenv("ORIGIN_TIMEOUT")
	if timeoutStr == "" {
		timeoutStr = "10s"
	}
	cfg.OriginTimeout, err = time.ParseDuration(timeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid ORIGIN_TIMEOUT environment variable: %w", err)
	}

	return cfg, nil
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
