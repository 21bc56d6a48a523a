package juju

import (
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/drcheck/internal/assessment/inspect"
	"github.com/vietddude/drcheck/internal/core/domain"
)

// startedStates are agent states that count as running.
var startedStates = []string{"started", "idle"}

// ParseStatus decodes `juju status --format yaml` output.
func ParseStatus(data string) (*domain.Status, error) {
	var status domain.Status
	if err := yaml.Unmarshal([]byte(data), &status); err != nil {
		return nil, fmt.Errorf("failed to parse status: %w", err)
	}
	return &status, nil
}

// AgentStates groups machine and unit agents by state.
func AgentStates(status *domain.Status) map[string][]string {
	states := make(map[string][]string)
	for id, m := range inspect.Machines(status) {
		state := m.State()
		if state == "" {
			state = "no-agent"
		}
		states[state] = append(states[state], id)
	}
	for _, svc := range status.AllServices() {
		for name, u := range svc.Units {
			state := u.State()
			if state == "" {
				state = "no-agent"
			}
			states[state] = append(states[state], name)
		}
	}
	return states
}

// CheckAgentsStarted reports whether every agent has started. An agent in an
// error state fails the check outright.
func CheckAgentsStarted(status *domain.Status) (bool, error) {
	states := AgentStates(status)
	for state, agents := range states {
		if strings.Contains(state, "error") {
			slices.Sort(agents)
			return false, fmt.Errorf("%s is in state %s", agents[0], state)
		}
	}
	for state := range states {
		if !slices.Contains(startedStates, state) {
			return false, nil
		}
	}
	return true, nil
}

// HAReady reports whether at least minMembers controller members exist and
// every one of them has a vote.
func HAReady(status *domain.Status, minMembers int) (bool, map[string][]string) {
	members := make(map[string][]string)
	for id, m := range inspect.Machines(status) {
		s, ok := inspect.ControllerMemberStatus(m)
		if !ok {
			continue
		}
		members[s] = append(members[s], id)
	}
	voting := members["has-vote"]
	return len(members) == 1 && len(voting) >= minMembers, members
}
