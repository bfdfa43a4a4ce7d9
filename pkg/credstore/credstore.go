// Package credstore provides read-only access to the locally persisted API
// key. The dispatcher does not own the credential; it only reads it.
package credstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

const logPrefix = "credstore:loader"

// EnvAPIKey overrides any credential file when set.
const EnvAPIKey = "CONSOLE_API_KEY"

// EnvCredentialFile points at an explicit credential file.
const EnvCredentialFile = "CONSOLE_CREDENTIAL_FILE"

// credentialFile is the on-disk shape of the persisted credential.
type credentialFile struct {
	APIKey string `json:"apiKey"`
}

// Store holds the loaded credential. An absent credential is a valid state,
// not an error: requests simply go out unauthenticated.
type Store struct {
	token string
}

// Load reads the credential from the first source that yields one: the
// CONSOLE_API_KEY env var, then any explicit paths, then the
// CONSOLE_CREDENTIAL_FILE env var, then default locations.
func Load(paths ...string) *Store {
	if key := strings.TrimSpace(os.Getenv(EnvAPIKey)); key != "" {
		slog.Info(fmt.Sprintf("%s - Using API key from environment", logPrefix))
		return &Store{token: key}
	}

	all := make([]string, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv(EnvCredentialFile); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, "config/credential.json", "credential.json")

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}

		var cred credentialFile
		if err := json.Unmarshal(data, &cred); err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to parse credential file %s: %v", logPrefix, p, err))
			continue
		}
		if key := strings.TrimSpace(cred.APIKey); key != "" {
			slog.Info(fmt.Sprintf("%s - Loaded credential from %s", logPrefix, p))
			return &Store{token: key}
		}
	}

	slog.Info(fmt.Sprintf("%s - No credential found, requests will be unauthenticated", logPrefix))
	return &Store{}
}

// Static wraps a fixed token (tests, explicit configuration).
func Static(token string) *Store {
	return &Store{token: strings.TrimSpace(token)}
}

// Token returns the bearer token and whether one is present.
func (s *Store) Token() (string, bool) {
	if s == nil || s.token == "" {
		return "", false
	}
	return s.token, true
}
