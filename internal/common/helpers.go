// Package common provides general utility helper functions shared by the
// generator packages
package common

import (
	"errors"
	"math"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
	"gopkg.in/yaml.v3"
)

// SanitizeFloat replaces +/-Inf and NaN with zero.
func SanitizeFloat(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}

	return v
}

// Clamp bounds v into [low, high].
func Clamp(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

// GetUUIDFromString returns a reproducible UUID for a given slice of strings.
// Entity identifiers derived this way are stable across runs, which keeps
// generated datasets byte-identical for a given seed and catalog.
func GetUUIDFromString(stringSlice []string) (string, error) {
	s := strings.Join(stringSlice, ",")
	h := xxh3.HashString128(s).Bytes()
	uuid, err := uuid.FromBytes(h[:])

	return uuid.String(), err
}

// Fingerprint returns a reproducible 64 bit hash of the given strings.
func Fingerprint(stringSlice []string) uint64 {
	return xxh3.HashString(strings.Join(stringSlice, ","))
}

// MakeConfig reads config file, merges with passed default config and returns
// updated config instance.
func MakeConfig[T any](filePath string) (*T, error) {
	// Create a new pointer to config instance
	config := new(T)

	// If no config file path provided, return default config
	if filePath == "" {
		return config, errors.New("config file path missing")
	}

	// Read config file
	configFile, err := os.ReadFile(filePath)
	if err != nil {
		return config, err
	}

	err = yaml.Unmarshal(configFile, config)
	if err != nil {
		return config, err
	}

	return config, nil
}
