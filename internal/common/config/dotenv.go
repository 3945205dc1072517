package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// LoadEnvFile loads variables from a .env file into the process environment.
// Variables that are already set keep their value.
func LoadEnvFile(path string) error {
	return godotenv.Load(path)
}

// LoadEnvFileIfExists is LoadEnvFile that ignores a missing file.
func LoadEnvFileIfExists(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return LoadEnvFile(path)
}

// loadEnvFiles reads .env.<ENVIRONMENT> before .env so per-environment values
// win over the shared defaults.
func loadEnvFiles() error {
	if environment := os.Getenv("ENVIRONMENT"); environment != "" {
		if err := LoadEnvFileIfExists(".env." + environment); err != nil {
			return err
		}
	}
	return LoadEnvFileIfExists(".env")
}
