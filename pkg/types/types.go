package types

import "time"

// DesiredServer is one entry of the persisted desired set. The port is the
// key: no two entries may share one.
type DesiredServer struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Port    int      `json:"port"`
	Args    []string `json:"args,omitempty"`
	Visible bool     `json:"visible"`
	Run     bool     `json:"run"`
}

// SameLaunch reports whether two desired entries would produce the same child
// process. A change in any of these fields requires a stop-and-respawn.
func (s DesiredServer) SameLaunch(o DesiredServer) bool {
	if s.Version != o.Version || s.Run != o.Run {
		return false
	}
	if len(s.Args) != len(o.Args) {
		return false
	}
	for i := range s.Args {
		if s.Args[i] != o.Args[i] {
			return false
		}
	}
	return true
}

// Settings is the document persisted as settings.json. Unknown fields are
// ignored on load for forward compatibility.
type Settings struct {
	Servers []DesiredServer `json:"servers"`
}

// ChildInfo is an observer's view of a live child process.
type ChildInfo struct {
	Port      int
	PID       int
	Version   string
	Args      []string
	StartedAt time.Time
	Stopping  bool
}

// ServerStatus annotates a desired entry with observed runtime state.
type ServerStatus struct {
	DesiredServer
	PID         int     `json:"pid"`
	Running     bool    `json:"running"`
	MemoryMB    float64 `json:"memoryMB"`
	Commit      string  `json:"commit"`
	LaunchError string  `json:"launchError,omitempty"`
}

// StatusReport is the /status snapshot returned to the orchestrator.
type StatusReport struct {
	Hostname   string         `json:"hostname"`
	Platform   string         `json:"platform"`
	TotalMemMB uint64         `json:"totalMemMB"`
	UsedMemMB  uint64         `json:"usedMemMB"`
	CPUUsage   float64        `json:"cpuUsage"`
	Servers    []ServerStatus `json:"servers"`
	Archives   []string       `json:"archives"`
}

// RegistrationInfo is what the agent reports to the orchestrator on startup.
type RegistrationInfo struct {
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
	Platform string `json:"platform"`
	Commit   string `json:"commit"`
}
