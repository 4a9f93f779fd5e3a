// Package config loads and validates beobridge configuration.
//
// Configuration is layered: hardcoded defaults, then the YAML file,
// then BEOBRIDGE_* environment variable overrides. Validate() runs
// after all layers are applied so a misconfigured deployment fails
// at startup rather than at first use.
//
// Durations are stored as integers in their natural unit (seconds for
// network settings, milliseconds for input timing) and exposed as
// time.Duration via the Get* helpers.
package config
