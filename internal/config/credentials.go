package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables holding the ads platform credentials.
const (
	EnvAppID       = "FACEBOOK_APP_ID"
	EnvAppSecret   = "FACEBOOK_APP_SECRET"
	EnvAccessToken = "FACEBOOK_ACCESS_TOKEN"
)

// ErrMissingCredentials is returned when any required credential is unset.
var ErrMissingCredentials = errors.New("missing credentials")

// Credentials authenticate calls to the ads platform.
type Credentials struct {
	AppID       string
	AppSecret   string
	AccessToken string
}

// CredentialsPath is the env file written by `cplpilot setup`.
func CredentialsPath() string {
	return filepath.Join(Dir(), "credentials.env")
}

// LoadEnvFiles loads ./.env and the setup-managed credentials file into the
// process environment. Variables already set are left untouched and missing
// files are ignored.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env", CredentialsPath()}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// LoadCredentials reads all three credentials from the environment. The
// error names every variable that is missing.
func LoadCredentials() (Credentials, error) {
	c := Credentials{
		AppID:       strings.TrimSpace(os.Getenv(EnvAppID)),
		AppSecret:   strings.TrimSpace(os.Getenv(EnvAppSecret)),
		AccessToken: strings.TrimSpace(os.Getenv(EnvAccessToken)),
	}

	var missing []string
	if c.AppID == "" {
		missing = append(missing, EnvAppID)
	}
	if c.AppSecret == "" {
		missing = append(missing, EnvAppSecret)
	}
	if c.AccessToken == "" {
		missing = append(missing, EnvAccessToken)
	}
	if len(missing) > 0 {
		return c, fmt.Errorf("%w: set %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return c, nil
}

// SaveCredentials writes the credentials as an env file readable only by
// the owner.
func SaveCredentials(path string, c Credentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	env := map[string]string{
		EnvAppID:       c.AppID,
		EnvAppSecret:   c.AppSecret,
		EnvAccessToken: c.AccessToken,
	}
	if err := godotenv.Write(env, path); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	return os.Chmod(path, 0o600)
}

// Mask hides all but the edges of a secret for display.
func Mask(secret string) string {
	if len(secret) > 16 {
		return secret[:8] + "..." + secret[len(secret)-4:]
	}
	if len(secret) > 4 {
		return secret[:4] + "..."
	}
	return "****"
}
