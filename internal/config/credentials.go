package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const credentialsFile = "credentials.toml"

// Credentials holds secrets kept outside config.toml.
type Credentials struct {
	APIKey string `toml:"api_key"`
}

// LoadEnvFiles loads .env from the working directory and the data directory.
// Existing environment variables win; missing files are ignored.
func LoadEnvFiles() {
	_ = godotenv.Load()
	if dir, err := DataDir(); err == nil {
		_ = godotenv.Load(filepath.Join(dir, ".env"))
	}
}

// LoadCredentials reads credentials.toml from the data dir.
// HEARTLINE_API_KEY overrides the stored key.
func LoadCredentials() (*Credentials, error) {
	creds := &Credentials{}

	dir, err := DataDir()
	if err != nil {
		return creds, err
	}

	path := filepath.Join(dir, credentialsFile)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, creds); err != nil {
			return creds, fmt.Errorf("decode credentials: %w", err)
		}
	}

	if v := os.Getenv("HEARTLINE_API_KEY"); v != "" {
		creds.APIKey = v
	}
	return creds, nil
}

// SaveCredentials writes credentials.toml with owner-only permissions.
func SaveCredentials(creds *Credentials) error {
	dir, err := EnsureDataDir()
	if err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(dir, credentialsFile), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("open credentials: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(creds); err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	return nil
}
