/*
Package config provides structured configuration for the fleet core.

Each component (dispatcher, event bus, transport, pattern store, curator,
learning loop, memory store) gets one Go struct with yaml tags and an
env-var override, built once at startup through a Loader that merges
three layers in order: compiled-in defaults, an optional YAML file, and
environment variables prefixed AQEFLEET_. Nothing merges per call site —
the merged Config is constructed once and handed to the agent shell.
*/
package config
