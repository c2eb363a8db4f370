package model

// ConnectionCandidate is one endpoint through which a server may be reached.
type ConnectionCandidate struct {
	URI       string `json:"uri"`
	Protocol  string `json:"protocol"`
	Address   string `json:"address"`
	Port      int    `json:"port"`
	Local     bool   `json:"local"`
	Relay     bool   `json:"relay"`
	Reachable bool   `json:"reachable"`
}

// ServerDescriptor is an owned media server with its verified connections.
type ServerDescriptor struct {
	Name              string                `json:"name"`
	MachineIdentifier string                `json:"machineIdentifier"`
	Version           string                `json:"version"`
	Platform          string                `json:"platform"`
	Device            string                `json:"device"`
	Connections       []ConnectionCandidate `json:"connections"`
}

// SelectedServer is the persisted server choice. The chosen connection URI is
// reported as "url".
type SelectedServer struct {
	MachineIdentifier string `json:"machineIdentifier"`
	Name              string `json:"name"`
	URI               string `json:"url"`
	Local             bool   `json:"local"`
}

// ConnectionTestResult is the outcome of a single manual probe.
type ConnectionTestResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
