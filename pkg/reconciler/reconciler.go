package reconciler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/siegeup/hostagent/pkg/buildstore"
	"github.com/siegeup/hostagent/pkg/log"
	"github.com/siegeup/hostagent/pkg/state"
	"github.com/siegeup/hostagent/pkg/supervisor"
	"github.com/siegeup/hostagent/pkg/types"
)

// DefaultInterval is the reconcile tick cadence.
const DefaultInterval = 2 * time.Second

// ErrUnknownPort is returned when a restart targets a port that is not in
// the desired set.
var ErrUnknownPort = errors.New("port not in desired set")

// Reconciler drives observed state (live children) toward desired state
// (the persisted server set). A crashed process is respawned purely because
// desired state still requires it; there is no separate restart policy.
//
// One mutex serializes ticks with the facade-driven mutations, so within a
// single port's lifecycle a stop always completes before the next tick can
// spawn a replacement.
type Reconciler struct {
	mu sync.Mutex

	state  *state.Store
	super  *supervisor.Supervisor
	builds *buildstore.Store

	interval time.Duration
	stopCh   chan struct{}
	logger   zerolog.Logger
}

// New creates a reconciler. A zero interval selects DefaultInterval.
func New(st *state.Store, sv *supervisor.Supervisor, bs *buildstore.Store, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reconciler{
		state:    st,
		super:    sv,
		builds:   bs,
		interval: interval,
		stopCh:   make(chan struct{}),
		logger:   log.WithComponent("reconciler"),
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

// run is the main reconciliation loop. Ticks run on this goroutine, so a
// slow tick can never overlap the next one.
func (r *Reconciler) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Tick()
		case <-r.stopCh:
			return
		}
	}
}

// Tick performs one reconciliation pass. A failure on one port never skips
// the others.
func (r *Reconciler) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, srv := range r.state.Servers() {
		if r.super.Has(srv.Port) {
			continue
		}
		if !srv.Run {
			continue
		}
		r.startServer(srv)
	}
}

// startServer resolves the executable and spawns one desired server.
func (r *Reconciler) startServer(srv types.DesiredServer) {
	executable, ok := r.builds.FindExecutable(srv.Version)
	if !ok {
		r.super.SetLaunchError(srv.Port, fmt.Sprintf(
			"Executable not found for version %q, upload the build first", srv.Version))
		r.logger.Warn().
			Int("port", srv.Port).
			Str("version", srv.Version).
			Msg("Executable not found")
		return
	}

	if err := r.super.Spawn(srv, executable); err != nil {
		r.logger.Error().Err(err).Int("port", srv.Port).Msg("Failed to spawn server")
	}
}

// ApplyDesired installs a new desired set: children whose port disappeared
// or whose launch parameters changed are stopped first, then the set is
// persisted. The next tick spawns whatever the new set requires.
func (r *Reconciler) ApplyDesired(servers []types.DesiredServer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	incoming := make(map[int]types.DesiredServer, len(servers))
	for _, srv := range servers {
		incoming[srv.Port] = srv
	}

	for _, current := range r.state.Servers() {
		next, kept := incoming[current.Port]
		if kept && current.SameLaunch(next) && next.Run {
			continue
		}
		if !r.super.Has(current.Port) {
			continue
		}
		if err := r.super.Shutdown(current.Port); err != nil {
			// The stuck entry blocks a respawn on this port; keep going
			// so the other ports still converge.
			r.logger.Error().Err(err).Int("port", current.Port).Msg("Failed to stop server for update")
		}
	}

	return r.state.Replace(servers)
}

// Restart stops the child on a port from the desired set; the next tick
// respawns it. Restarting a port with no live child is a no-op.
func (r *Reconciler) Restart(port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.state.Get(port); !ok {
		return ErrUnknownPort
	}
	return r.super.Shutdown(port)
}

// StopAll gracefully stops every child, serialized against ticks.
func (r *Reconciler) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.super.StopAll()
}
