package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overlays secrets and deployment-specific values from the
// environment. Environment values override the file.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	get := func(keys ...string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				return v
			}
		}
		return ""
	}

	if v := get("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := get("MONGODB_URI"); v != "" {
		cfg.Storage.URI = v
	}
	if v := get("DATABASE_NAME"); v != "" {
		cfg.Storage.Database = v
	}
	if v := get("EVENTPULSE_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := get("EXTRACTOR_API_TOKEN", "HUGGINGFACE_API_TOKEN"); v != "" {
		if cfg.Extractor == nil {
			cfg.Extractor = &ExtractorConfig{}
		}
		cfg.Extractor.Token = v
	}
	if v := get("EVENTPULSE_DEBUG_TOKEN"); v != "" {
		if cfg.Debug == nil {
			cfg.Debug = &DebugConfig{}
		}
		cfg.Debug.Token = v
	}
}
