// Package config parses the engine's comma-separated option string. The
// parser deliberately stays on the standard library: the grammar is a
// handful of key=value pairs over a single small input, with no concurrency, I/O, or nested structure that would
// justify pulling in a flag/parsing library (see DESIGN.md).
package config

import (
	"fmt"
	"strings"

	"github.com/crsruntime/crs-core/internal/logging"
)

// Options is the parsed form of the engine's configuration string.
type Options struct {
	// UseCRS is "auto", "force", or empty (the default) if unspecified.
	UseCRS string
	// UnlockExperimental must be set for UseCRS to take effect when the
	// options came from the environment rather than a command line.
	UnlockExperimental bool

	GlobalLogLevel logging.Level
	VMLogLevel     logging.Level
	HasVMLogLevel  bool

	// LauncherDetected reports whether the process was started by a
	// known launcher; required when UseCRS is "auto".
	LauncherDetected func() bool
}

// Enabled reports whether the engine should engage given the parsed
// options: force always enables, auto defers to LauncherDetected, and
// anything else leaves the engine disabled.
func (o Options) Enabled() bool {
	switch o.UseCRS {
	case "force":
		return true
	case "auto":
		if o.LauncherDetected == nil {
			return false
		}
		return o.LauncherDetected()
	default:
		return false
	}
}

// Parse parses the comma-separated option string s, e.g.
// "useCRS=auto,log=info,log+vm=debug". fromEnv indicates the string came
// from an environment variable rather than a command-line flag; per
// spec.md §6, a useCRS setting supplied via the environment only takes
// effect when paired with UnlockExperimentalCRS, to keep an
// accidentally-inherited environment variable from silently enabling the
// subsystem in an unrelated child process.
func Parse(s string, fromEnv bool, launcherDetected func() bool) (Options, error) {
	opts := Options{
		GlobalLogLevel:   logging.LevelInfo,
		LauncherDetected: launcherDetected,
	}
	if strings.TrimSpace(s) == "" {
		return opts, nil
	}

	var sawUseCRS bool
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		key, value, hasValue := strings.Cut(field, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch {
		case key == "useCRS":
			if !hasValue {
				return Options{}, fmt.Errorf("config: useCRS requires a value")
			}
			if value != "auto" && value != "force" {
				return Options{}, fmt.Errorf("config: useCRS must be %q or %q, got %q", "auto", "force", value)
			}
			opts.UseCRS = value
			sawUseCRS = true
		case key == "UnlockExperimentalCRS":
			opts.UnlockExperimental = true
		case key == "log":
			lvl, err := logging.ParseLevel(value)
			if err != nil {
				return Options{}, fmt.Errorf("config: %w", err)
			}
			opts.GlobalLogLevel = lvl
		case key == "log+vm":
			lvl, err := logging.ParseLevel(value)
			if err != nil {
				return Options{}, fmt.Errorf("config: %w", err)
			}
			opts.VMLogLevel = lvl
			opts.HasVMLogLevel = true
		default:
			return Options{}, fmt.Errorf("config: unrecognized option %q", key)
		}
	}

	if sawUseCRS && opts.UseCRS == "auto" && launcherDetected == nil {
		return Options{}, fmt.Errorf("config: useCRS=auto requires a launcher-detection hook")
	}
	if sawUseCRS && fromEnv && !opts.UnlockExperimental {
		return Options{}, fmt.Errorf("config: useCRS set from the environment requires UnlockExperimentalCRS")
	}

	return opts, nil
}
