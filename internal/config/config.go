// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides gifplay configuration decoding and validation, and
// watching of played files.
package config

import (
	"fmt"
	"image/color"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/kortschak/gifplay/internal/animation"
)

// Config is a gifplay configuration.
type Config struct {
	// MaxBytes is the limit on the pixel memory held by an
	// animation. If MaxBytes is nil or zero the animation
	// default is used.
	MaxBytes *uint32 `json:"max_bytes,omitempty" toml:"max_bytes"`
	// MetadataOnly opens animations without a backing canvas.
	// Frames are then drawn onto a surface owned by the caller.
	MetadataOnly bool `json:"metadata_only,omitempty" toml:"metadata_only"`
	// Speed is the factor applied to frame delays.
	Speed *float64 `json:"speed,omitempty" toml:"speed"`
	// LoopCount overrides the number of passes encoded
	// in the animation. Zero is infinite.
	LoopCount *int `json:"loop_count,omitempty" toml:"loop_count"`
	// Background is a hex web color, #rgb or #rrggbb, used
	// for the canvas background in place of the animation's.
	Background *string     `json:"background,omitempty" toml:"background"`
	LogLevel   *slog.Level `json:"log_level,omitempty" toml:"log_level"`
	AddSource  *bool       `json:"log_add_source,omitempty" toml:"log_add_source"`
	// State is the path to the saved-state database.
	State string `json:"state,omitempty" toml:"state"`
	// Name is the saved-state key.
	Name string `json:"name,omitempty" toml:"name"`
}

// Schema is the schema for a valid configuration.
const Schema = `
_#config

_#config: {
	max_bytes?:      uint32
	metadata_only?:  bool
	speed?:          number & >0
	loop_count?:     int & >=0 & <=65535
	background?:     _#web_color
	log_level?:      _#log_level
	log_add_source?: bool
	state?:          !=""
	name?:           !=""
}

_#web_color: =~"^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$"
_#log_level: =~"(?i)^(?:debug|info|warn|error)$"
`

// Load reads, decodes and validates the TOML configuration at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Decode(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode decodes and validates the TOML configuration in b. Keys that are
// not part of the configuration are an error.
func Decode(b []byte) (*Config, error) {
	var cfg Config
	md, err := toml.Decode(string(b), &cfg)
	if err != nil {
		return nil, err
	}
	if undec := md.Undecoded(); len(undec) != 0 {
		keys := make([]string, len(undec))
		for i, k := range undec {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown configuration keys: %s", strings.Join(keys, ", "))
	}
	_, err = Validate(Schema, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// BackgroundColor returns the configured background color, or nil if none
// is configured.
func (c *Config) BackgroundColor() (color.Color, error) {
	if c.Background == nil {
		return nil, nil
	}
	col, err := colorful.Hex(*c.Background)
	if err != nil {
		return nil, fmt.Errorf("invalid background color %q: %w", *c.Background, err)
	}
	return col, nil
}

// Options returns the animation options described by the configuration,
// logging to log.
func (c *Config) Options(log *slog.Logger) (animation.Options, error) {
	bg, err := c.BackgroundColor()
	if err != nil {
		return animation.Options{}, err
	}
	opts := animation.Options{
		MetadataOnly: c.MetadataOnly,
		Background:   bg,
		Log:          log,
	}
	if c.MaxBytes != nil {
		opts.MaxBytes = *c.MaxBytes
	}
	return opts, nil
}
