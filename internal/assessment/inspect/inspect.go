// Package inspect reads cluster state out of status snapshots.
package inspect

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"strconv"

	"github.com/vietddude/drcheck/internal/core/domain"
	"github.com/vietddude/drcheck/internal/core/poll"
)

// StatusSource returns the current cluster status.
type StatusSource interface {
	Status(ctx context.Context) (*domain.Status, error)
}

// Machines yields machines in machine-id order.
func Machines(status *domain.Status) iter.Seq2[string, domain.MachineInfo] {
	return func(yield func(string, domain.MachineInfo) bool) {
		if status == nil {
			return
		}
		ids := slices.SortedFunc(maps.Keys(status.Machines), compareMachineIDs)
		for _, id := range ids {
			if !yield(id, status.Machines[id]) {
				return
			}
		}
	}
}

// AgentVersions maps each observed agent version to the agents reporting it.
// Agents without a version are listed under domain.UnknownVersion.
func AgentVersions(status *domain.Status) map[string][]string {
	versions := make(map[string][]string)
	if status == nil {
		return versions
	}
	for id, m := range Machines(status) {
		v := m.Version()
		versions[v] = append(versions[v], id)
	}
	for _, svc := range status.AllServices() {
		for name, u := range svc.Units {
			v := u.Version()
			versions[v] = append(versions[v], name)
		}
	}
	return versions
}

// Stable reports whether exactly one known version is observed.
func Stable(versions map[string][]string) bool {
	if len(versions) != 1 {
		return false
	}
	_, unknown := versions[domain.UnknownVersion]
	return !unknown
}

// ControllerMemberStatus returns the controller membership value of a
// machine, and false when it is not a controller member.
func ControllerMemberStatus(info domain.MachineInfo) (string, bool) {
	s := info.MemberStatus()
	return s, s != ""
}

// Member builds the MemberStatus snapshot of a machine.
func Member(id string, info domain.MachineInfo) domain.MemberStatus {
	raw, ok := ControllerMemberStatus(info)
	membership := domain.MembershipAbsent
	switch {
	case ok && raw == "unknown":
		membership = domain.MembershipUnknown
	case ok:
		membership = domain.MembershipPresent
	}
	return domain.MemberStatus{
		MachineID:    id,
		InstanceID:   info.InstanceID,
		Membership:   membership,
		RawStatus:    raw,
		AgentVersion: info.Version(),
	}
}

// Inspector polls a status source.
type Inspector struct {
	source StatusSource
	poller poll.Poller
	log    *slog.Logger
}

// New creates an Inspector.
func New(source StatusSource, poller poll.Poller) *Inspector {
	return &Inspector{source: source, poller: poller, log: slog.Default()}
}

// SettleAgentVersions polls until the agent versions are stable or the
// budget runs out. It returns the last observation and whether it was stable.
// Status errors are treated as an unsettled observation.
func (i *Inspector) SettleAgentVersions(ctx context.Context, budget int) (map[string][]string, bool) {
	var versions map[string][]string
	for range i.poller.Until(budget) {
		status, err := i.source.Status(ctx)
		if err != nil {
			i.log.Debug("Status unavailable while settling versions", "error", err)
			continue
		}
		versions = AgentVersions(status)
		if Stable(versions) {
			return versions, true
		}
	}
	return versions, false
}

// MachineDNSName polls until the machine publishes an address.
func (i *Inspector) MachineDNSName(ctx context.Context, machine string, budget int) (string, error) {
	var last error
	for range i.poller.Until(budget) {
		status, err := i.source.Status(ctx)
		if err != nil {
			last = err
			continue
		}
		info, ok := status.Machines[machine]
		if ok && info.DNSName != "" && info.DNSName != "localhost" {
			return info.DNSName, nil
		}
	}
	timeout := &domain.TimeoutError{What: fmt.Sprintf("dns-name of machine %s", machine), Attempts: budget}
	if last != nil {
		timeout.Last = last.Error()
	}
	return "", timeout
}

// ResolveInstance returns the address of the machine running instanceID.
func (i *Inspector) ResolveInstance(ctx context.Context, instanceID string) (string, error) {
	status, err := i.source.Status(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get status: %w", err)
	}
	for id, m := range Machines(status) {
		if m.InstanceID == instanceID && m.DNSName != "" {
			i.log.Debug("Resolved instance", "instance", instanceID, "machine", id, "host", m.DNSName)
			return m.DNSName, nil
		}
	}
	return "", fmt.Errorf("no machine reports instance %s", instanceID)
}

// compareMachineIDs orders numeric ids numerically and falls back to string
// order for container ids such as "0/lxc/1".
func compareMachineIDs(a, b string) int {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return cmp.Compare(na, nb)
	}
	return cmp.Compare(a, b)
}
