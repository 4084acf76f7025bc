// Package config holds the engine's environment configuration and the
// YAML governance profiles that parameterize validation, mapping, approvals,
// and retry behavior per deployment.
package config

import "os"

// EngineVersion is the running engine's semantic version, checked against a
// profile's min_engine_version gate.
const EngineVersion = "1.4.0"

// Config holds process-level configuration.
type Config struct {
	LogLevel    string
	ArchivePath string
	ProfileDir  string
	ProfileName string
	ShadowMode  bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	archivePath := os.Getenv("ARCHIVE_PATH")
	if archivePath == "" {
		archivePath = "gatewright.db"
	}

	profileDir := os.Getenv("PROFILE_DIR")
	if profileDir == "" {
		profileDir = "profiles"
	}

	profileName := os.Getenv("PROFILE")
	if profileName == "" {
		profileName = "default"
	}

	shadowMode := os.Getenv("SHADOW_MODE") == "true"

	return &Config{
		LogLevel:    logLevel,
		ArchivePath: archivePath,
		ProfileDir:  profileDir,
		ProfileName: profileName,
		ShadowMode:  shadowMode,
	}
}
