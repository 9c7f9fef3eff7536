package main

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/segmentio/encoding/json"
	"gopkg.in/yaml.v3"

	"biomonkey/internal/config"
)

const (
	envConfigJSON    = "BIOMONKEY_CONFIG_JSON"
	envConfigYAMLB64 = "BIOMONKEY_CONFIG_YAML_B64"
)

// writeConfigFromEnv materialises a configuration handed over through the
// environment at cfgPath, encoded for the file's extension. It reports
// whether a file was written.
func writeConfigFromEnv(cfgPath string) (bool, error) {
	jsonPayload := os.Getenv(envConfigJSON)
	yamlPayload := os.Getenv(envConfigYAMLB64)

	if jsonPayload == "" && yamlPayload == "" {
		return false, nil
	}
	if cfgPath == "" {
		return false, errors.New("configuration provided through the environment but no --config path supplied")
	}

	cfg := config.Default()
	if jsonPayload != "" {
		if err := json.Unmarshal([]byte(jsonPayload), cfg); err != nil {
			return false, fmt.Errorf("decode config json: %w", err)
		}
	} else {
		data, err := base64.StdEncoding.DecodeString(yamlPayload)
		if err != nil {
			return false, fmt.Errorf("decode config yaml: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return false, fmt.Errorf("parse config yaml: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return false, fmt.Errorf("validate config: %w", err)
	}

	dir := filepath.Dir(cfgPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("create config directory: %w", err)
		}
	}
	data, err := encodeConfig(filepath.Ext(cfgPath), cfg)
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(cfgPath, data, 0o600); err != nil {
		return false, fmt.Errorf("write config file: %w", err)
	}
	return true, nil
}

func encodeConfig(ext string, cfg *config.Config) ([]byte, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshal config yaml: %w", err)
		}
		return data, nil
	case ".toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, fmt.Errorf("marshal config toml: %w", err)
		}
		return buf.Bytes(), nil
	default:
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal config json: %w", err)
		}
		return data, nil
	}
}
