package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	appNameVar  = "APP_NAME"
	envVar      = "ENV"
	logLevelVar = "LOG_LEVEL"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "OIDC Login")
}

func (EnvVars) GetEnv() string {
	return GetEnv(envVar, "DEV")
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelVar, "info")
}

// GetEnv returns the environment variable, then the config file value, then defaultValue.
func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value != "" {
		return value
	}
	if v, ok := fileValues[envVar]; ok && v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(envVar string, defaultValue int) int {
	v, err := strconv.Atoi(GetEnv(envVar, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvDuration(envVar string, defaultValue time.Duration) time.Duration {
	v, err := time.ParseDuration(GetEnv(envVar, ""))
	if err != nil || v <= 0 {
		return defaultValue
	}
	return v
}

func getEnvList(envVar string, defaultValue []string) []string {
	raw := GetEnv(envVar, "")
	if raw == "" {
		return defaultValue
	}
	return strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' })
}
