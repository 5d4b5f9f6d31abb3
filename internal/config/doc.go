// Package config loads siglog's runtime configuration. Default() is the
// baseline, Load reads a YAML file over it, FromEnv overlays SIGLOG_*
// variables and Validate checks the result.
//
// Example:
//
//	cfg, err := config.Load("/etc/siglog.yaml")
//	if err != nil {
//	    return err
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config
