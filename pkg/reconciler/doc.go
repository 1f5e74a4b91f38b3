/*
Package reconciler drives observed state toward the desired-server set.

Every tick compares the persisted desired set against the supervisor's live
children and spawns whatever is missing. There is no separate restart
policy: a crashed server is respawned on the next tick purely because
desired state still requires it, and stopping a server means removing it
from (or flagging it off in) the desired set.

	┌──────────────────────── Tick (every 2 s) ─────────────────────────┐
	│                                                                   │
	│   for each desired server:                                        │
	│     child on port?  ──yes──▶ nothing to do                        │
	│     run == false?   ──yes──▶ nothing to do                        │
	│     resolve executable ──missing──▶ record launch error           │
	│     spawn                                                         │
	│                                                                   │
	└───────────────────────────────────────────────────────────────────┘

Ticks run on a single goroutine and share one mutex with the mutating
entrypoints (ApplyDesired, Restart, StopAll), so within a port's lifecycle
a stop always completes before the next tick can spawn a replacement.

ApplyDesired installs a new desired set: children whose port disappeared,
whose launch parameters changed or whose run flag dropped are stopped
synchronously, then the set is persisted and the tick loop converges the
rest. Cosmetic fields (name, visibility) never restart a running server.
*/
package reconciler
