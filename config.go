package replica

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

// validate is the shared validator instance.
var validate = validator.New()

// Config is the file form of a State's configuration. Transport and Store
// are not part of it; they are wired by the caller.
type Config struct {
	Role           string        `yaml:"role" json:"role" validate:"required,oneof=popup background content offscreen"`
	Group          string        `yaml:"group" json:"group" validate:"omitempty,excludesall=.*>"`
	Scope          *int          `yaml:"scope" json:"scope" validate:"omitempty,min=-1"`
	StorageKey     string        `yaml:"storage_key" json:"storage_key" validate:"omitempty,printascii"`
	PersistentKeys []string      `yaml:"persistent_keys" json:"persistent_keys" validate:"dive,required,ne=*"`
	PullTimeout    time.Duration `yaml:"pull_timeout" json:"pull_timeout"`
	Format         string        `yaml:"format" json:"format" validate:"omitempty,oneof=json yaml"`
	ErrorHistory   int           `yaml:"error_history" json:"error_history" validate:"min=0,max=1024"`

	// Initial seeds the State before a peer or the store provides values.
	Initial map[string]any `yaml:"initial" json:"initial"`
}

// LoadConfig reads and validates a YAML or JSON config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates a YAML or JSON document. Durations are
// written as strings such as "5s" in both formats; JSON also accepts an
// integer number of nanoseconds.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := decodeJSONConfig(data, &cfg); err != nil {
			return Config{}, err
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeJSONConfig(data []byte, cfg *Config) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("expected JSON: %w", err)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		TagName:    "json",
		Result:     cfg,
	})
	if err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate checks the config using go-playground/validator tags.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// Build creates an unstarted State from the config. The returned State can
// be configured further before Start.
func (c Config) Build() (*State, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	role, err := ParseRole(c.Role)
	if err != nil {
		return nil, err
	}

	s := New(role, c.Initial).PersistentKeys(c.PersistentKeys...)
	if c.Group != "" {
		s.Group(c.Group)
	}
	if c.Scope != nil {
		s.Scope(*c.Scope)
	}
	if c.StorageKey != "" {
		s.StorageKey(c.StorageKey)
	}
	if c.PullTimeout > 0 {
		s.PullTimeout(c.PullTimeout)
	}
	codec, err := CodecFor(c.Format)
	if err != nil {
		return nil, err
	}
	s.Codec(codec)
	if c.ErrorHistory > 0 {
		s.ErrorHistorySize(c.ErrorHistory)
	}
	return s, nil
}
