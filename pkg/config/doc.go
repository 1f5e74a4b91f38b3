// Package config resolves the agent's directories and tunables. Everything
// has a working default: agent.yaml in the base directory is optional, and
// the SETTINGS_DIR, BUILDS_DIR and ORCHESTRATOR_URL environment variables
// take precedence over it.
package config
