package models

import (
	"fmt"

	"github.com/creasty/defaults"
)

// Priors holds the hyperparameters of the change-point model.
type Priors struct {
	// MeanCenter is the location of the Normal prior on every segment mean.
	MeanCenter float64 `yaml:"meanCenter" json:"meanCenter"`
	// MeanScale is σ0, the scale of the segment-mean prior.
	MeanScale float64 `yaml:"meanScale" json:"meanScale" default:"10" validate:"gt=0"`
	// SDScale is τ, the scale of the half-Normal prior on the segment sd.
	SDScale float64 `yaml:"sdScale" json:"sdScale" default:"1" validate:"gt=0"`
}

// ModelConfig captures the model and sampler settings for one detection run.
type ModelConfig struct {
	NumChangePoints  int     `yaml:"numChangePoints" json:"numChangePoints" validate:"gte=0"`
	Draws            int     `yaml:"draws" json:"draws" default:"1000" validate:"gt=0"`
	TuningIterations int     `yaml:"tuningIterations" json:"tuningIterations" default:"1000" validate:"gte=0"`
	Chains           int     `yaml:"chains" json:"chains" default:"2" validate:"gte=1"`
	TargetAccept     float64 `yaml:"targetAccept" json:"targetAccept" default:"0.44" validate:"gt=0,lt=1"`
	Seed             int64   `yaml:"seed" json:"seed"`
	Priors           Priors  `yaml:"priors" json:"priors"`

	AdaptInterval    int     `yaml:"adaptInterval" json:"adaptInterval" default:"50" validate:"gt=0"`
	InitialStepScale float64 `yaml:"initialStepScale" json:"initialStepScale" default:"1" validate:"gt=0"`
	RHatThreshold    float64 `yaml:"rhatThreshold" json:"rhatThreshold" default:"1.1" validate:"gt=1"`
	CredibleMass     float64 `yaml:"credibleMass" json:"credibleMass" default:"0.9" validate:"gt=0,lt=1"`
	MaxParallel      int     `yaml:"maxParallel" json:"maxParallel" validate:"gte=0"`
	AllowPartial     bool    `yaml:"allowPartial" json:"allowPartial"`
}

// DefaultModelConfig returns a config populated from the struct-tag defaults.
// NumChangePoints is left at zero; callers always choose K.
func DefaultModelConfig() ModelConfig {
	var cfg ModelConfig
	if err := cfg.ApplyDefaults(); err != nil {
		panic(fmt.Sprintf("model config defaults: %v", err))
	}
	return cfg
}

// ApplyDefaults fills zero-valued fields from their `default` tags.
func (c *ModelConfig) ApplyDefaults() error {
	return defaults.Set(c)
}
