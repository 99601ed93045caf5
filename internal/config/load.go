package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/roach88/edgecycle/internal/scheduler"
)

// Format is a configuration file format.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
)

// ErrUnsupportedFormat is returned for file extensions other than .yaml,
// .yml and .cue.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// FormatOf picks the format from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var validate = mustNewValidator()

// newValidator builds the struct validator: problems are reported by YAML
// key, and the "cron" tag checks schedule windows.
func newValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		return scheduler.ValidSpec(fl.Field().String()) == nil
	}); err != nil {
		return nil, fmt.Errorf("register cron validation: %w", err)
	}
	return v, nil
}

func mustNewValidator() *validator.Validate {
	v, err := newValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// Load reads, decodes, defaults and validates the file at path.
func Load(path string) (*Config, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data, format, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data in the given format. filename is only used in CUE
// error positions.
func Parse(data []byte, format Format, filename string) (*Config, error) {
	var cfg Config
	var err error
	switch format {
	case FormatYAML:
		err = decodeYAML(data, &cfg)
	case FormatCUE:
		err = decodeCUE(data, filename, &cfg)
	default:
		err = fmt.Errorf("%q: %w", format, ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	cfg.Hash = hex.EncodeToString(sum[:])
	return &cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("decode yaml: empty document")
		}
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

func decodeCUE(data []byte, filename string, cfg *Config) error {
	v := cuecontext.New().CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return fmt.Errorf("compile cue: %w", err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validate cue: %w", err)
	}
	if err := v.Decode(cfg); err != nil {
		return fmt.Errorf("decode cue: %w", err)
	}
	return nil
}

// Validate checks field constraints and cross references. It expects
// defaults to be applied.
func (c *Config) Validate() error {
	var problems []string
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}
	problems = append(problems, c.crossCheck()...)
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	// Drop the root type name: "Config.batteries[0].id" -> "batteries[0].id".
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	if fe.Param() != "" {
		return fmt.Sprintf("%s: must satisfy %s=%s", field, fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s: must satisfy %s", field, fe.Tag())
}

// crossCheck verifies that IDs are unique and that every reference names
// something configured.
func (c *Config) crossCheck() []string {
	var problems []string
	seen := make(map[string]string)
	claim := func(id, what string) {
		if id == "" {
			return
		}
		if prev, ok := seen[id]; ok {
			problems = append(problems, fmt.Sprintf("duplicate id %q (%s and %s)", id, prev, what))
			return
		}
		seen[id] = what
	}

	batteries := make(map[string]bool)
	for _, b := range c.Batteries {
		claim(b.ID, "battery")
		claim(b.ID+"Sim", "battery simulator")
		batteries[b.ID] = true
	}
	meters := make(map[string]bool)
	for _, m := range c.Meters {
		claim(m.ID, "meter")
		meters[m.ID] = true
		for _, s := range m.Storages {
			if !batteries[s] {
				problems = append(problems, fmt.Sprintf("meter %q: unknown storage battery %q", m.ID, s))
			}
		}
	}

	controllers := make(map[string]bool)
	for _, b := range c.Controllers.Balancing {
		claim(b.ID, "balancing controller")
		controllers[b.ID] = true
		if !batteries[b.Battery] {
			problems = append(problems, fmt.Sprintf("controller %q: unknown battery %q", b.ID, b.Battery))
		}
		if !meters[b.Meter] {
			problems = append(problems, fmt.Sprintf("controller %q: unknown meter %q", b.ID, b.Meter))
		}
	}
	for _, s := range c.Controllers.StartStop {
		claim(s.ID, "startstop controller")
		controllers[s.ID] = true
		if !batteries[s.Battery] {
			problems = append(problems, fmt.Sprintf("controller %q: unknown battery %q", s.ID, s.Battery))
		}
	}

	if c.Scheduler.Type != SchedulerAlphabetical {
		for _, id := range c.Scheduler.Order {
			if !controllers[id] {
				problems = append(problems, fmt.Sprintf("scheduler: unknown controller %q", id))
			}
		}
	}
	switch c.Scheduler.Type {
	case SchedulerDaily:
		if len(c.Scheduler.Windows) == 0 {
			problems = append(problems, "scheduler: daily requires at least one window")
		}
		for _, w := range c.Scheduler.Windows {
			for _, id := range w.Controllers {
				if !controllers[id] {
					problems = append(problems, fmt.Sprintf("scheduler window %q: unknown controller %q", w.Name, id))
				}
			}
		}
	default:
		if len(c.Scheduler.Windows) > 0 {
			problems = append(problems, fmt.Sprintf("scheduler: windows require type %q", SchedulerDaily))
		}
	}
	return problems
}
