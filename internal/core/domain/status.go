package domain

// UnknownVersion is reported for agents that have not published a version.
const UnknownVersion = "unknown"

// Status is a snapshot of `juju status --format yaml`.
// Both the 1.x and 2.x key spellings are decoded.
type Status struct {
	Environment  string                 `yaml:"environment"`
	Model        string                 `yaml:"model"`
	Machines     map[string]MachineInfo `yaml:"machines"`
	Services     map[string]ServiceInfo `yaml:"services"`
	Applications map[string]ServiceInfo `yaml:"applications"`
}

// MachineInfo holds the per-machine fields the assessment consumes.
type MachineInfo struct {
	AgentState              string      `yaml:"agent-state"`
	AgentVersion            string      `yaml:"agent-version"`
	JujuStatus              AgentStatus `yaml:"juju-status"`
	DNSName                 string      `yaml:"dns-name"`
	InstanceID              string      `yaml:"instance-id"`
	Series                  string      `yaml:"series"`
	StateServerMemberStatus string      `yaml:"state-server-member-status"`
	ControllerMemberStatus  string      `yaml:"controller-member-status"`
}

// AgentStatus is the 2.x nested agent status block.
type AgentStatus struct {
	Current string `yaml:"current"`
	Version string `yaml:"version"`
	Message string `yaml:"message"`
}

// ServiceInfo holds the units of a deployed service.
type ServiceInfo struct {
	Charm string              `yaml:"charm"`
	Units map[string]UnitInfo `yaml:"units"`
}

// UnitInfo holds per-unit agent details.
type UnitInfo struct {
	AgentState   string      `yaml:"agent-state"`
	AgentVersion string      `yaml:"agent-version"`
	JujuStatus   AgentStatus `yaml:"juju-status"`
	Machine      string      `yaml:"machine"`
}

// State returns the agent state, preferring the 1.x field.
func (m MachineInfo) State() string {
	if m.AgentState != "" {
		return m.AgentState
	}
	return m.JujuStatus.Current
}

// Version returns the reported agent version or UnknownVersion.
func (m MachineInfo) Version() string {
	return firstVersion(m.AgentVersion, m.JujuStatus.Version)
}

// MemberStatus returns the raw controller membership value, if any.
func (m MachineInfo) MemberStatus() string {
	if m.StateServerMemberStatus != "" {
		return m.StateServerMemberStatus
	}
	return m.ControllerMemberStatus
}

// State returns the unit agent state, preferring the 1.x field.
func (u UnitInfo) State() string {
	if u.AgentState != "" {
		return u.AgentState
	}
	return u.JujuStatus.Current
}

// Version returns the reported unit agent version or UnknownVersion.
func (u UnitInfo) Version() string {
	return firstVersion(u.AgentVersion, u.JujuStatus.Version)
}

// AllServices merges the 1.x services and 2.x applications sections.
func (s *Status) AllServices() map[string]ServiceInfo {
	if len(s.Applications) == 0 {
		return s.Services
	}
	all := make(map[string]ServiceInfo, len(s.Services)+len(s.Applications))
	for name, svc := range s.Services {
		all[name] = svc
	}
	for name, svc := range s.Applications {
		all[name] = svc
	}
	return all
}

func firstVersion(candidates ...string) string {
	for _, v := range candidates {
		if v != "" {
			return v
		}
	}
	return UnknownVersion
}

// Membership classifies a machine's controller membership.
type Membership string

const (
	MembershipPresent Membership = "present"
	MembershipAbsent  Membership = "absent"
	MembershipUnknown Membership = "unknown"
)

// MemberStatus is the per-node snapshot used when culling controller members.
type MemberStatus struct {
	MachineID    string
	InstanceID   string
	Membership   Membership
	RawStatus    string
	AgentVersion string
}
