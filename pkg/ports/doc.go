// Package ports probes TCP port availability. A port is free when a
// wildcard bind succeeds; the probe listener is closed immediately so the
// check itself never holds the port.
package ports
