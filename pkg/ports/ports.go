package ports

import (
	"fmt"
	"net"
	"time"
)

// pollInterval is the cadence WaitUntilFree re-probes a busy port.
const pollInterval = 100 * time.Millisecond

// IsFree reports whether TCP port can currently be bound on 0.0.0.0. The
// probe listener is always closed before returning.
func IsFree(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// WaitUntilFree polls IsFree until the port is bindable or the timeout
// elapses. It returns whether the port became free within the budget.
//
// Child exit does not imply port release: the OS may hold the socket in
// TIME_WAIT, or the child may have left descendants behind. Port liberation
// is the authoritative "stopped" signal.
func WaitUntilFree(port int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if IsFree(port) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}
