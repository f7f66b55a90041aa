package pipeline

import (
	"github.com/go-playground/validator/v10"

	"github.com/andresuchdata/control-tower/internal/domain"
	"github.com/andresuchdata/control-tower/internal/pipeline/alignment"
	"github.com/andresuchdata/control-tower/internal/pipeline/attribution"
	"github.com/andresuchdata/control-tower/internal/pipeline/inventory"
	"github.com/andresuchdata/control-tower/internal/pipeline/normalize"
	"github.com/andresuchdata/control-tower/internal/pipeline/recommend"
)

// Settings holds the configuration of every stage.
type Settings struct {
	Normalize   normalize.Config
	Attribution attribution.Config
	Inventory   inventory.Config
	Alignment   alignment.Config
	Recommend   recommend.Config
}

// DefaultSettings returns the documented defaults of every stage.
func DefaultSettings() Settings {
	return Settings{
		Normalize:   normalize.DefaultConfig(),
		Attribution: attribution.DefaultConfig(),
		Inventory:   inventory.DefaultConfig(),
		Alignment:   alignment.DefaultConfig(),
		Recommend:   recommend.DefaultConfig(),
	}
}

var validate = validator.New()

// Validate rejects settings before any input is read.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return domain.ConfigError("pipeline settings: %v", err)
	}
	for cur, rate := range s.Normalize.FXRates {
		if !rate.IsPositive() {
			return domain.ConfigError("fx rate for %s must be positive", cur)
		}
	}
	return s.Recommend.Validate()
}
