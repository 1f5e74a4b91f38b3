// Package client is a Go client for the agent's control API, used by the
// operator subcommands and suitable for orchestrator integrations.
package client
