package config

import (
	"os"

	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(provide),
	fx.Provide(NewKarmaHolder),
)

func provide() (Config, error) {
	cfg := Load()
	karma, err := LoadKarmaFile(os.Getenv("KARMA_CONFIG_FILE"), cfg.Karma)
	if err != nil {
		return Config{}, err
	}
	cfg.Karma = karma
	return cfg, nil
}
