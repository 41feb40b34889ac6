// Package config loads the service configuration once at process start: an
// optional JSON file, environment overrides, then defaults. Values are never
// re-read per request.
package config
