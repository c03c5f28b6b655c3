package config

import (
	"errors"
	"strings"
)

// KarmaConfig holds the tunable policy knobs of the scoring engine.
type KarmaConfig struct {
	InitialScore      int64 `mapstructure:"initialScore"`
	MinRatingKarma    int64 `mapstructure:"minRatingKarma"`
	RatingFee         int64 `mapstructure:"ratingFee"`
	RatingWindowSecs  int64 `mapstructure:"ratingWindowSeconds"`
	FreshnessPerMille int64 `mapstructure:"freshnessPerMille"`
	DetectOnSubmit    bool  `mapstructure:"detectOnSubmit"`
}

func DefaultKarmaConfig() KarmaConfig {
	return KarmaConfig{
		InitialScore:      50,
		MinRatingKarma:    10,
		RatingFee:         2,
		RatingWindowSecs:  86400,
		FreshnessPerMille: 900,
		DetectOnSubmit:    false,
	}
}

var ErrInvalidKarmaConfig = errors.New("invalid_karma_config")

func loadKarmaFromEnv() KarmaConfig {
	def := DefaultKarmaConfig()
	return KarmaConfig{
		InitialScore:      getenvInt64("KARMA_INITIAL_SCORE", def.InitialScore),
		MinRatingKarma:    getenvInt64("KARMA_MIN_RATING_KARMA", def.MinRatingKarma),
		RatingFee:         getenvInt64("KARMA_RATING_FEE", def.RatingFee),
		RatingWindowSecs:  getenvInt64("KARMA_RATING_WINDOW_SECONDS", def.RatingWindowSecs),
		FreshnessPerMille: getenvInt64("KARMA_FRESHNESS_PER_MILLE", def.FreshnessPerMille),
		DetectOnSubmit:    getenvBool("KARMA_ABUSE_DETECT_ON_SUBMIT", def.DetectOnSubmit),
	}
}

// LoadKarmaFile overlays a karma tuning file (yaml, toml or json) on top of base.
// An empty path returns base unchanged.
func LoadKarmaFile(path string, base KarmaConfig) (KarmaConfig, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return base, nil
	}

	v := karmaViper(path, base)
	if err := v.ReadInConfig(); err != nil {
		return base, err
	}
	cfg, err := decodeKarma(v)
	if err != nil {
		return base, err
	}
	return cfg, nil
}

func ValidateKarma(cfg KarmaConfig) error {
	switch {
	case cfg.InitialScore < 0 || cfg.InitialScore > 10000:
		return ErrInvalidKarmaConfig
	case cfg.MinRatingKarma < 0:
		return ErrInvalidKarmaConfig
	case cfg.RatingFee < 0:
		return ErrInvalidKarmaConfig
	case cfg.RatingWindowSecs <= 0:
		return ErrInvalidKarmaConfig
	case cfg.FreshnessPerMille < 0 || cfg.FreshnessPerMille > 1000:
		return ErrInvalidKarmaConfig
	}
	return nil
}
