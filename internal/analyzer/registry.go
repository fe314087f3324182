package analyzer

import (
	"errors"
	"fmt"
	"slices"

	"image-analyzer/internal/logging"
)

// Config selects and configures analyzers.
type Config struct {
	Enabled  []string
	Metadata MetadataConfig
	Caption  CaptionConfig
	Vision   VisionConfig
}

// Build validates cfg and constructs the enabled analyzers in pipeline
// order.
func Build(cfg Config, log *logging.Logger) ([]Analyzer, error) {
	if len(cfg.Enabled) == 0 {
		return nil, errors.New("no analyzers enabled")
	}

	var out []Analyzer
	var errs []error
	for _, name := range Order {
		if !slices.Contains(cfg.Enabled, name) {
			continue
		}
		switch name {
		case Metadata:
			out = append(out, NewMetadata(cfg.Metadata))
		case Caption:
			c := cfg.Caption
			if err := c.Validate(); err != nil {
				errs = append(errs, err)
				continue
			}
			out = append(out, NewCaption(c, log))
		case VisionLanguage:
			v := cfg.Vision
			if err := v.Validate(); err != nil {
				errs = append(errs, err)
				continue
			}
			out = append(out, NewVision(v, log))
		}
	}
	for _, name := range cfg.Enabled {
		if !slices.Contains(Order, name) {
			errs = append(errs, fmt.Errorf("unknown analyzer %q", name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}
