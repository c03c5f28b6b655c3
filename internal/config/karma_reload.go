package config

import (
	"os"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// KarmaHolder serves the current karma policy. When KARMA_CONFIG_FILE is set
// the file is watched and valid edits replace the policy without a restart.
type KarmaHolder struct {
	current atomic.Value // holds KarmaConfig
}

func NewStaticKarmaHolder(cfg KarmaConfig) *KarmaHolder {
	h := &KarmaHolder{}
	h.current.Store(cfg)
	return h
}

func NewKarmaHolder(cfg Config, log *zap.Logger) (*KarmaHolder, error) {
	return WatchKarmaFile(os.Getenv("KARMA_CONFIG_FILE"), cfg.Karma, log)
}

// WatchKarmaFile loads path over base and keeps reloading it on change.
func WatchKarmaFile(path string, base KarmaConfig, log *zap.Logger) (*KarmaHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	path = strings.TrimSpace(path)
	holder := NewStaticKarmaHolder(base)
	if path == "" {
		return holder, nil
	}

	v := karmaViper(path, base)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	loaded, err := decodeKarma(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(loaded)

	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeKarma(v)
		if err != nil {
			log.Warn("karma config reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("karma config reloaded", zap.String("file", e.Name), zap.String("op", e.Op.String()))
	})
	v.WatchConfig()

	return holder, nil
}

// Get returns the active policy. A nil holder yields the defaults.
func (h *KarmaHolder) Get() KarmaConfig {
	if h == nil {
		return DefaultKarmaConfig()
	}
	return h.current.Load().(KarmaConfig)
}

func karmaViper(path string, base KarmaConfig) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("karma.initialScore", base.InitialScore)
	v.SetDefault("karma.minRatingKarma", base.MinRatingKarma)
	v.SetDefault("karma.ratingFee", base.RatingFee)
	v.SetDefault("karma.ratingWindowSeconds", base.RatingWindowSecs)
	v.SetDefault("karma.freshnessPerMille", base.FreshnessPerMille)
	v.SetDefault("karma.detectOnSubmit", base.DetectOnSubmit)
	return v
}

func decodeKarma(v *viper.Viper) (KarmaConfig, error) {
	var file struct {
		Karma KarmaConfig `mapstructure:"karma"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return KarmaConfig{}, err
	}
	if err := ValidateKarma(file.Karma); err != nil {
		return KarmaConfig{}, err
	}
	return file.Karma, nil
}
