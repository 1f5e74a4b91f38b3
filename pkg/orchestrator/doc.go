// Package orchestrator announces this agent to the fleet orchestrator.
// Registration is best-effort: the agent is fully functional without an
// orchestrator, so failures are logged and retried on a slow cadence
// rather than surfaced.
package orchestrator
