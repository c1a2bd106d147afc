package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
)

// EnvPrefix is stripped from environment variables before mapping them to keys.
const EnvPrefix = "EVSTORE_"

// PathEnvVar names a config file when Load is called with an empty path.
const PathEnvVar = EnvPrefix + "CONFIG"

// Load layers defaults, the config file at path (YAML or JSON) and EVSTORE_*
// environment variables, in that order, then validates the result. If path
// is empty, EVSTORE_CONFIG is consulted; no file is not an error.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(PathEnvVar)
	}
	if path != "" {
		// YAML is a superset of JSON, so one parser serves both.
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}
	if err := splitSlices(k); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// sections maps env var prefixes (after EVSTORE_, lowercased) to key paths.
// Longer prefixes come first.
var sections = []struct{ env, key string }{
	{"storage_breaker_", "storage.breaker."},
	{"storage_", "storage."},
	{"tenancy_", "tenancy."},
	{"archive_", "archive."},
	{"server_", "server."},
	{"notify_", "notify."},
	{"log_", "log."},
}

// envKey maps EVSTORE_STORAGE_FSYNC_INTERVAL to storage.fsync_interval.
// Unknown variables map to "" and are ignored.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if key == "data_dir" {
		return key
	}
	for _, sec := range sections {
		if rest, ok := strings.CutPrefix(key, sec.env); ok && rest != "" {
			return sec.key + rest
		}
	}
	return ""
}

var sliceKeys = []string{"tenancy.allowed_tenants"}

// splitSlices turns comma-separated env values into lists.
func splitSlices(k *koanf.Koanf) error {
	for _, path := range sliceKeys {
		v, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		var out []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("regexp", func(fl validator.FieldLevel) bool {
		_, err := regexp.Compile(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks field constraints and reports every violation.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
