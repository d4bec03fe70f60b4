// Package config loads and validates application settings from environment
// variables (optionally sourced from a .env file), exposing them as typed
// structs so the rest of the codebase never touches raw env lookups.
package config
