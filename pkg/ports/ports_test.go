package ports

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func occupyPort(t *testing.T) (net.Listener, int) {
	t.Helper()

	ln, err := net.Listen("tcp", "0.0.0.0:0")
	require.NoError(t, err)
	return ln, ln.Addr().(*net.TCPAddr).Port
}

func TestIsFree(t *testing.T) {
	ln, port := occupyPort(t)

	assert.False(t, IsFree(port), "port held by a listener should not be free")

	ln.Close()
	assert.True(t, IsFree(port), "port should be free after the listener closes")
}

func TestIsFreeDoesNotHoldPort(t *testing.T) {
	ln, port := occupyPort(t)
	ln.Close()

	// Probing twice in a row only works if the probe listener is closed.
	assert.True(t, IsFree(port))
	assert.True(t, IsFree(port))
}

func TestWaitUntilFree_AlreadyFree(t *testing.T) {
	ln, port := occupyPort(t)
	ln.Close()

	start := time.Now()
	assert.True(t, WaitUntilFree(port, 2*time.Second))
	assert.Less(t, time.Since(start), time.Second, "a free port should be confirmed immediately")
}

func TestWaitUntilFree_Timeout(t *testing.T) {
	ln, port := occupyPort(t)
	defer ln.Close()

	assert.False(t, WaitUntilFree(port, 300*time.Millisecond))
}

func TestWaitUntilFree_BecomesFree(t *testing.T) {
	ln, port := occupyPort(t)

	timer := time.AfterFunc(250*time.Millisecond, func() { ln.Close() })
	defer timer.Stop()

	assert.True(t, WaitUntilFree(port, 2*time.Second))
}
