package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnv loads environment variables from .env file if it exists.
// Variables already present in the environment are left untouched.
func LoadEnv(filename string) error {
	err := godotenv.Load(filename)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		// .env file is optional
		return nil
	}
	return err
}

// GetRPCEndpoints returns RPC endpoints from environment or nil
func GetRPCEndpoints() []string {
	return splitList(os.Getenv("RPC_ENDPOINTS"))
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
