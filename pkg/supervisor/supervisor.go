package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/siegeup/hostagent/pkg/log"
	"github.com/siegeup/hostagent/pkg/logsink"
	"github.com/siegeup/hostagent/pkg/ports"
	"github.com/siegeup/hostagent/pkg/types"
)

const (
	// gracefulPortWait is how long a SIGTERM'd child gets to release its
	// port before escalation.
	gracefulPortWait = 2 * time.Second

	// killPortWait is the post-SIGKILL port budget.
	killPortWait = 1 * time.Second

	// exitPortWait delays child cleanup after an observed exit so an
	// immediate respawn cannot race the port.
	exitPortWait = 2 * time.Second
)

// launchEnvOverlay is applied on top of the agent's own environment for
// every child.
var launchEnvOverlay = []string{"LANG=C.UTF-8"}

// Child is one live game-server process owned by the supervisor.
type Child struct {
	Port      int
	PID       int
	Version   string
	Args      []string
	StartedAt time.Time

	cmd      *exec.Cmd
	stream   *logsink.Stream
	stopping bool
}

// Supervisor spawns children, observes their exits and performs the bounded
// graceful-then-forceful shutdown. It owns the volatile maps of children
// and per-port launch errors.
type Supervisor struct {
	mu       sync.Mutex
	children map[int]*Child
	errors   map[int]string

	sink   *logsink.Sink
	logger zerolog.Logger
}

// New creates a supervisor writing child output through the given sink.
func New(sink *logsink.Sink) *Supervisor {
	return &Supervisor{
		children: make(map[int]*Child),
		errors:   make(map[int]string),
		sink:     sink,
		logger:   log.WithComponent("supervisor"),
	}
}

// canonicalArgs builds the argument vector every server is launched with.
// Desired args are appended after the built-in flags.
func canonicalArgs(s types.DesiredServer) []string {
	args := []string{
		"-batchmode",
		"-nographics",
		"-logFile", "-",
		"--server-port", strconv.Itoa(s.Port),
	}
	return append(args, s.Args...)
}

// Spawn launches the executable for a desired server and registers the
// child. At most one child may exist per port. A successful spawn clears
// the port's launch error.
func (sv *Supervisor) Spawn(desired types.DesiredServer, executable string) error {
	sv.mu.Lock()
	if _, exists := sv.children[desired.Port]; exists {
		sv.mu.Unlock()
		return fmt.Errorf("port %d already has a running child", desired.Port)
	}
	sv.mu.Unlock()

	stream, err := sv.sink.Open(desired.Port)
	if err != nil {
		sv.setError(desired.Port, fmt.Sprintf("Failed to open log file: %v", err))
		return err
	}

	workDir := filepath.Dir(executable)

	cmd := exec.Command(executable, canonicalArgs(desired)...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), launchEnvOverlay...)
	cmd.Env = append(cmd.Env, "LD_LIBRARY_PATH="+workDir)
	cmd.Stdout = stream
	cmd.Stderr = stream

	if err := cmd.Start(); err != nil {
		stream.Close()
		sv.setError(desired.Port, fmt.Sprintf("Failed to start server: %v", err))
		return fmt.Errorf("failed to start %s: %w", executable, err)
	}

	child := &Child{
		Port:      desired.Port,
		PID:       cmd.Process.Pid,
		Version:   desired.Version,
		Args:      desired.Args,
		StartedAt: time.Now(),
		cmd:       cmd,
		stream:    stream,
	}

	sv.mu.Lock()
	sv.children[desired.Port] = child
	delete(sv.errors, desired.Port)
	sv.mu.Unlock()

	sv.logger.Info().
		Int("port", desired.Port).
		Int("pid", child.PID).
		Str("version", desired.Version).
		Msg("Server started")

	go sv.observe(child)
	return nil
}

// observe waits for a child to exit, closes its log stream and removes the
// entry once the port is confirmed free. An abnormal exit leaves a launch
// error directing the operator to the log.
func (sv *Supervisor) observe(child *Child) {
	err := child.cmd.Wait()
	child.stream.Close()

	sv.mu.Lock()
	stopping := child.stopping
	sv.mu.Unlock()

	if !stopping {
		if cause := exitCause(err); cause != "" {
			sv.setError(child.Port, fmt.Sprintf(
				"Server exited unexpectedly (%s), see logs for port %d", cause, child.Port))
			sv.logger.Warn().
				Int("port", child.Port).
				Int("pid", child.PID).
				Str("cause", cause).
				Msg("Server exited abnormally")
		} else {
			sv.logger.Info().Int("port", child.Port).Int("pid", child.PID).Msg("Server exited")
		}
	}

	// Even after exit the OS may hold the port; do not let the reconciler
	// respawn until it is actually free.
	if !ports.WaitUntilFree(child.Port, exitPortWait) {
		sv.logger.Warn().Int("port", child.Port).Msg("Port still in use after child exit")
		if stopping {
			// A timed-out Shutdown leaves the entry in place so nothing
			// respawns into a port that is still bound. The process is
			// gone now, so keep waiting and drop the entry once the port
			// finally frees, or the port can never converge again.
			for !ports.WaitUntilFree(child.Port, exitPortWait) {
			}
		}
	}

	sv.remove(child.Port, child)
}

// exitCause describes an abnormal exit, or returns "" for a clean one.
func exitCause(err error) string {
	if err == nil {
		return ""
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		status, ok := exitErr.Sys().(syscall.WaitStatus)
		if ok && status.Signaled() {
			return fmt.Sprintf("signal %s", status.Signal())
		}
		return fmt.Sprintf("exit code %d", exitErr.ExitCode())
	}
	return err.Error()
}

// Shutdown terminates the child on a port: SIGTERM with a 2 s port budget,
// then SIGKILL with a 1 s budget. It succeeds only once the port is free.
// On timeout the child entry is kept, which blocks a racy respawn on the
// same port; the exit observer removes it once the port frees.
func (sv *Supervisor) Shutdown(port int) error {
	sv.mu.Lock()
	child, ok := sv.children[port]
	if !ok {
		sv.mu.Unlock()
		return nil
	}
	child.stopping = true
	sv.mu.Unlock()

	sv.logger.Info().Int("port", port).Int("pid", child.PID).Msg("Stopping server")

	if err := child.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		sv.logger.Debug().Err(err).Int("port", port).Msg("SIGTERM delivery failed")
	}

	if ports.WaitUntilFree(port, gracefulPortWait) {
		sv.remove(port, child)
		sv.logger.Info().Int("port", port).Msg("Server stopped gracefully")
		return nil
	}

	sv.logger.Warn().Int("port", port).Msg("Server did not stop in time, killing")
	if err := child.cmd.Process.Kill(); err != nil {
		sv.logger.Debug().Err(err).Int("port", port).Msg("SIGKILL delivery failed")
	}

	if ports.WaitUntilFree(port, killPortWait) {
		sv.remove(port, child)
		return nil
	}

	err := fmt.Errorf("port %d still in use after SIGKILL", port)
	sv.setError(port, err.Error())
	sv.logger.Error().Int("port", port).Msg("Shutdown timed out, port still in use")
	return err
}

// StopAll gracefully shuts down every child. Used on agent exit.
func (sv *Supervisor) StopAll() {
	sv.mu.Lock()
	portList := make([]int, 0, len(sv.children))
	for port := range sv.children {
		portList = append(portList, port)
	}
	sv.mu.Unlock()

	for _, port := range portList {
		if err := sv.Shutdown(port); err != nil {
			sv.logger.Error().Err(err).Int("port", port).Msg("Failed to stop server")
		}
	}
}

func (sv *Supervisor) remove(port int, child *Child) {
	sv.mu.Lock()
	if sv.children[port] == child {
		delete(sv.children, port)
	}
	sv.mu.Unlock()
}

// Has reports whether a child exists for the port.
func (sv *Supervisor) Has(port int) bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	_, ok := sv.children[port]
	return ok
}

// Child returns an observer's view of the child on a port.
func (sv *Supervisor) Child(port int) (types.ChildInfo, bool) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	child, ok := sv.children[port]
	if !ok {
		return types.ChildInfo{}, false
	}
	return childInfo(child), true
}

// Children returns a snapshot of all live children.
func (sv *Supervisor) Children() []types.ChildInfo {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	out := make([]types.ChildInfo, 0, len(sv.children))
	for _, child := range sv.children {
		out = append(out, childInfo(child))
	}
	return out
}

func childInfo(child *Child) types.ChildInfo {
	return types.ChildInfo{
		Port:      child.Port,
		PID:       child.PID,
		Version:   child.Version,
		Args:      child.Args,
		StartedAt: child.StartedAt,
		Stopping:  child.stopping,
	}
}

// VersionsInUse snapshots the set of build versions referenced by live
// children. Purge safety depends on taking this snapshot before listing
// the build directory.
func (sv *Supervisor) VersionsInUse() map[string]bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	inUse := make(map[string]bool, len(sv.children))
	for _, child := range sv.children {
		inUse[child.Version] = true
	}
	return inUse
}

// LaunchError returns the most recent failure recorded for a port.
func (sv *Supervisor) LaunchError(port int) string {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.errors[port]
}

// SetLaunchError records a per-port failure. The reconciler uses this for
// missing-executable conditions; spawn and exit paths record their own.
func (sv *Supervisor) SetLaunchError(port int, msg string) {
	sv.setError(port, msg)
}

func (sv *Supervisor) setError(port int, msg string) {
	sv.mu.Lock()
	sv.errors[port] = msg
	sv.mu.Unlock()
}
