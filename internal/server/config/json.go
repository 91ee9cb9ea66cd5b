package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dkarpov/calvault/internal/flagx"
	"github.com/dkarpov/calvault/internal/timex"
)

// JsonConfig is an intermediate DTO used only for reading JSON configuration
// files. It uses timex.Duration for interval fields, which allows parsing
// both string values such as "15m" and integer nanoseconds. After
// unmarshalling, its fields are copied into the runtime Config struct.
type JsonConfig struct {
	EndpointAddr    string         `json:"endpoint_addr"`
	DatabaseDSN     string         `json:"database_dsn"`
	TokenSecret     string         `json:"token_secret"`
	TokenTTL        timex.Duration `json:"token_ttl"`
	ShareLegacySalt string         `json:"share_legacy_salt"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config command-line
// flags; if neither is set, no JSON file is loaded. An unreadable or invalid
// file panics: a misconfigured server must not start.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()

	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.EndpointAddr = c.EndpointAddr
	config.DatabaseDSN = c.DatabaseDSN
	config.TokenSecret = c.TokenSecret
	config.TokenTTL = time.Duration(c.TokenTTL.Duration)
	config.ShareLegacySalt = c.ShareLegacySalt
}
