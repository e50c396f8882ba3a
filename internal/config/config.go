package config

import (
	"errors"
	"os"

	"github.com/rs/zerolog/log"
)

// Environment variables consumed at startup.
const (
	EnvProjectID       = "FIREBASE_PROJECT_ID"
	EnvCredentialsPath = "FIREBASE_CREDENTIALS_PATH"
	EnvDatabaseURL     = "FIREBASE_DATABASE_URL"
)

// ErrMissingProjectID is returned when the required project ID variable is unset or empty.
var ErrMissingProjectID = errors.New(EnvProjectID + " environment variable not set")

// Firebase holds the connection configuration loaded from the environment.
// Values are fixed at load time; optional fields are empty strings when unset.
type Firebase struct {
	ProjectID       string
	CredentialsPath string
	DatabaseURL     string
}

// FromEnv loads the Firebase configuration from environment variables.
// The project ID is mandatory; its absence is a hard failure and no
// partial configuration is returned.
func FromEnv() (Firebase, error) {
	projectID := os.Getenv(EnvProjectID)
	if projectID == "" {
		log.Error().Str("variable", EnvProjectID).Msg("Failed to load Firebase config from environment")
		return Firebase{}, ErrMissingProjectID
	}

	return Firebase{
		ProjectID:       projectID,
		CredentialsPath: os.Getenv(EnvCredentialsPath),
		DatabaseURL:     os.Getenv(EnvDatabaseURL),
	}, nil
}
