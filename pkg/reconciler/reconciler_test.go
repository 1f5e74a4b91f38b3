package reconciler

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siegeup/hostagent/pkg/buildstore"
	"github.com/siegeup/hostagent/pkg/log"
	"github.com/siegeup/hostagent/pkg/logsink"
	"github.com/siegeup/hostagent/pkg/state"
	"github.com/siegeup/hostagent/pkg/supervisor"
	"github.com/siegeup/hostagent/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

type fixture struct {
	state  *state.Store
	super  *supervisor.Supervisor
	builds *buildstore.Store
	recon  *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	base := t.TempDir()

	st := state.NewStore(base)
	require.NoError(t, st.Load())

	builds, err := buildstore.NewStore(filepath.Join(base, "builds"))
	require.NoError(t, err)

	sink, err := logsink.NewSink(filepath.Join(base, "logs"))
	require.NoError(t, err)

	sv := supervisor.New(sink)
	f := &fixture{
		state:  st,
		super:  sv,
		builds: builds,
		recon:  New(st, sv, builds, time.Hour),
	}
	t.Cleanup(sv.StopAll)
	return f
}

// uploadBuild ingests a build version whose executable is a shell script
// that idles until SIGTERM.
func uploadBuild(t *testing.T, builds *buildstore.Store, version string) {
	t.Helper()

	script := "#!/bin/sh\ntrap 'exit 0' TERM\nwhile true; do sleep 0.1; done\n"

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("server.x86_64")
	require.NoError(t, err)
	_, err = w.Write([]byte(script))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	require.NoError(t, builds.Ingest(bytes.NewReader(buf.Bytes()), version))
}

func TestTickSpawnsDesiredServers(t *testing.T) {
	f := newFixture(t)
	uploadBuild(t, f.builds, "v1")

	require.NoError(t, f.state.Replace([]types.DesiredServer{
		{Name: "A", Version: "v1", Port: 39771, Run: true},
		{Name: "B", Version: "v1", Port: 39772, Run: true},
	}))

	f.recon.Tick()

	assert.True(t, f.super.Has(39771))
	assert.True(t, f.super.Has(39772))
}

func TestTickSkipsStoppedServers(t *testing.T) {
	f := newFixture(t)
	uploadBuild(t, f.builds, "v1")

	require.NoError(t, f.state.Replace([]types.DesiredServer{
		{Name: "A", Version: "v1", Port: 39773, Run: false},
	}))

	f.recon.Tick()

	assert.False(t, f.super.Has(39773))
}

func TestTickMissingExecutable(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.state.Replace([]types.DesiredServer{
		{Name: "A", Version: "never-uploaded", Port: 39774, Run: true},
	}))

	f.recon.Tick()

	assert.False(t, f.super.Has(39774))
	msg := f.super.LaunchError(39774)
	assert.Contains(t, msg, "Executable not found")
	assert.Contains(t, msg, "never-uploaded")
}

func TestTickIsIdempotent(t *testing.T) {
	f := newFixture(t)
	uploadBuild(t, f.builds, "v1")

	require.NoError(t, f.state.Replace([]types.DesiredServer{
		{Name: "A", Version: "v1", Port: 39775, Run: true},
	}))

	f.recon.Tick()
	child, ok := f.super.Child(39775)
	require.True(t, ok)

	f.recon.Tick()
	again, ok := f.super.Child(39775)
	require.True(t, ok)
	assert.Equal(t, child.PID, again.PID, "a running child must not be respawned")
}

func TestApplyDesiredStopsRemovedPorts(t *testing.T) {
	f := newFixture(t)
	uploadBuild(t, f.builds, "v1")

	require.NoError(t, f.state.Replace([]types.DesiredServer{
		{Name: "A", Version: "v1", Port: 39776, Run: true},
		{Name: "B", Version: "v1", Port: 39777, Run: true},
	}))
	f.recon.Tick()
	require.True(t, f.super.Has(39776))
	require.True(t, f.super.Has(39777))

	require.NoError(t, f.recon.ApplyDesired([]types.DesiredServer{
		{Name: "A", Version: "v1", Port: 39776, Run: true},
	}))

	assert.True(t, f.super.Has(39776), "unchanged server keeps running")
	assert.False(t, f.super.Has(39777), "removed server is stopped")

	srvs := f.state.Servers()
	require.Len(t, srvs, 1)
	assert.Equal(t, 39776, srvs[0].Port)
}

func TestApplyDesiredRestartsOnVersionChange(t *testing.T) {
	f := newFixture(t)
	uploadBuild(t, f.builds, "v1")
	uploadBuild(t, f.builds, "v2")

	require.NoError(t, f.state.Replace([]types.DesiredServer{
		{Name: "A", Version: "v1", Port: 39778, Run: true},
	}))
	f.recon.Tick()
	first, ok := f.super.Child(39778)
	require.True(t, ok)

	require.NoError(t, f.recon.ApplyDesired([]types.DesiredServer{
		{Name: "A", Version: "v2", Port: 39778, Run: true},
	}))

	// The old child is stopped; the next tick brings up the new version.
	assert.False(t, f.super.Has(39778))

	f.recon.Tick()
	second, ok := f.super.Child(39778)
	require.True(t, ok)
	assert.Equal(t, "v2", second.Version)
	assert.NotEqual(t, first.PID, second.PID)
}

func TestApplyDesiredStopsOnRunFalse(t *testing.T) {
	f := newFixture(t)
	uploadBuild(t, f.builds, "v1")

	require.NoError(t, f.state.Replace([]types.DesiredServer{
		{Name: "A", Version: "v1", Port: 39779, Run: true},
	}))
	f.recon.Tick()
	require.True(t, f.super.Has(39779))

	require.NoError(t, f.recon.ApplyDesired([]types.DesiredServer{
		{Name: "A", Version: "v1", Port: 39779, Run: false},
	}))

	assert.False(t, f.super.Has(39779))

	// Subsequent ticks must not bring it back.
	f.recon.Tick()
	assert.False(t, f.super.Has(39779))
}

func TestApplyDesiredIgnoresNameChange(t *testing.T) {
	f := newFixture(t)
	uploadBuild(t, f.builds, "v1")

	require.NoError(t, f.state.Replace([]types.DesiredServer{
		{Name: "A", Version: "v1", Port: 39780, Run: true},
	}))
	f.recon.Tick()
	first, ok := f.super.Child(39780)
	require.True(t, ok)

	require.NoError(t, f.recon.ApplyDesired([]types.DesiredServer{
		{Name: "Renamed", Version: "v1", Port: 39780, Run: true},
	}))

	second, ok := f.super.Child(39780)
	require.True(t, ok)
	assert.Equal(t, first.PID, second.PID, "a rename alone must not restart the server")
}

func TestRestart(t *testing.T) {
	f := newFixture(t)
	uploadBuild(t, f.builds, "v1")

	require.NoError(t, f.state.Replace([]types.DesiredServer{
		{Name: "A", Version: "v1", Port: 39781, Run: true},
	}))
	f.recon.Tick()
	first, ok := f.super.Child(39781)
	require.True(t, ok)

	require.NoError(t, f.recon.Restart(39781))
	assert.False(t, f.super.Has(39781))

	f.recon.Tick()
	second, ok := f.super.Child(39781)
	require.True(t, ok)
	assert.NotEqual(t, first.PID, second.PID)
}

func TestRestartUnknownPort(t *testing.T) {
	f := newFixture(t)

	err := f.recon.Restart(39782)
	assert.ErrorIs(t, err, ErrUnknownPort)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	f.recon.Start()
	f.recon.Stop()
}
