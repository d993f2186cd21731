package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileValues holds settings read from a YAML config file, keyed by environment variable name.
// Environment variables always win over file values.
var fileValues map[string]string

// FileConfig is the YAML layout accepted by NewFromFile.
type FileConfig struct {
	AppName string `yaml:"appName"`
	Env     string `yaml:"env"`
	Log     struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	OAuth struct {
		Issuer        string   `yaml:"issuer"`
		ClientID      string   `yaml:"clientId"`
		ClientSecret  string   `yaml:"clientSecret"`
		ClientName    string   `yaml:"clientName"`
		Scopes        []string `yaml:"scopes"`
		TokenType     string   `yaml:"tokenType"`
		CallbackPort  int      `yaml:"callbackPort"`
		CallbackPath  string   `yaml:"callbackPath"`
		LoginTimeout  string   `yaml:"loginTimeout"`
		RefreshMargin string   `yaml:"refreshMargin"`
	} `yaml:"oauth"`
	Storage struct {
		Backend       string `yaml:"backend"`
		DataFolder    string `yaml:"dataFolder"`
		RedisAddr     string `yaml:"redisAddr"`
		RedisPassword string `yaml:"redisPassword"`
	} `yaml:"storage"`
}

// NewFromFile loads path as YAML and returns a Config where environment variables
// override the file, and the file overrides the built-in defaults.
func NewFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	fileValues = fc.values()
	return mainConfig{}, nil
}

func (fc FileConfig) values() map[string]string {
	v := map[string]string{
		appNameVar:        fc.AppName,
		envVar:            fc.Env,
		logLevelVar:       fc.Log.Level,
		issuerVar:         fc.OAuth.Issuer,
		clientIDVar:       fc.OAuth.ClientID,
		clientSecretVar:   fc.OAuth.ClientSecret,
		clientNameVar:     fc.OAuth.ClientName,
		scopesVar:         strings.Join(fc.OAuth.Scopes, " "),
		tokenTypeVar:      fc.OAuth.TokenType,
		callbackPathVar:   fc.OAuth.CallbackPath,
		loginTimeoutVar:   fc.OAuth.LoginTimeout,
		refreshMarginVar:  fc.OAuth.RefreshMargin,
		storageBackendVar: fc.Storage.Backend,
		folderEnvVar:      fc.Storage.DataFolder,
		redisAddrVar:      fc.Storage.RedisAddr,
		redisPasswordVar:  fc.Storage.RedisPassword,
	}
	if fc.OAuth.CallbackPort != 0 {
		v[callbackPortVar] = strconv.Itoa(fc.OAuth.CallbackPort)
	}
	return v
}
