/*
Package supervisor owns the game-server child processes running on this host.

The supervisor spawns children, pipes their output into per-instance rolling
logs, observes their exits and performs the bounded graceful-then-forceful
shutdown. Everything it tracks is volatile: after an agent restart the maps
start empty and the reconciler rebuilds the world from desired state.

# Lifecycle

	┌──────────┐   Spawn    ┌──────────┐   SIGTERM   ┌───────────┐
	│  absent   │──────────▶│ running  │────────────▶│ stopping  │
	└──────────┘            └────┬─────┘             └─────┬─────┘
	     ▲                       │ exit                    │ port free
	     │      port free        ▼                         ▼
	     └───────────────── observed exit             entry removed

A child's listen port is the authoritative liveness signal, not its process
state. Shutdown succeeds only once the port accepts a bind again:

  - SIGTERM, then up to 2 seconds for the port to free
  - SIGKILL, then up to 1 more second
  - on timeout the entry is kept, which blocks any respawn on that port

The same gate applies after a self-initiated exit, so a crash-looping server
cannot race the OS for its own port.

# Launch errors

Each port carries at most one launch error string: the most recent failure
to start, an abnormal exit notice, or a stuck shutdown. A successful spawn
clears it. The status endpoint surfaces these to the orchestrator verbatim.

# Environment

Children run from their executable's directory with the agent's environment
plus a fixed overlay (UTF-8 locale, LD_LIBRARY_PATH pointing at the build
directory) so Unity server builds find their bundled shared objects.
*/
package supervisor
