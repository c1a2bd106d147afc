// Package config loads evstore configuration. Values are layered with koanf:
// built-in defaults, then an optional YAML or JSON file, then EVSTORE_*
// environment variables. The merged result is checked with validator tags.
//
// Example:
//
//	cfg, err := config.Load("/etc/evstore.yaml")
//	if err != nil {
//	    return err
//	}
//	rt, err := runtime.Open(ctx, runtime.Options{Config: cfg})
package config
