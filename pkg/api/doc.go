/*
Package api serves the agent's HTTPS control interface.

The API is a thin facade: handlers validate, translate to core operations
and serialize results. All bodies are JSON; errors come back as
{"error": "..."} with a meaningful status code.

	POST /launch       replace the desired-server set
	POST /upload       ingest a build archive (multipart, field gameZip)
	POST /restart      stop a server so the reconciler respawns it
	POST /purge        delete build versions no running server uses
	POST /update       stop everything and exit 0 for a binary swap
	GET  /logs/{port}  tail of the Nth most recent log
	GET  /status       host and per-server snapshot
	GET  /health       liveness probe

The server terminates TLS itself with the agent's self-signed certificate.
Handler panics are recovered into a 500 carrying a six-digit correlation id
that also appears in the agent log, so one bad request can never take the
supervisor down with it.
*/
package api
