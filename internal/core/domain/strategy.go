package domain

import "fmt"

// StrategyKind selects which recovery path an assessment exercises.
type StrategyKind string

const (
	StrategyBackup   StrategyKind = "backup"
	StrategyHA       StrategyKind = "ha"
	StrategyHABackup StrategyKind = "ha-backup"
)

// ParseStrategy converts a flag or config value into a StrategyKind.
// An empty value selects the default backup strategy.
func ParseStrategy(s string) (StrategyKind, error) {
	switch StrategyKind(s) {
	case "":
		return StrategyBackup, nil
	case StrategyBackup, StrategyHA, StrategyHABackup:
		return StrategyKind(s), nil
	default:
		return "", fmt.Errorf("unknown strategy %q", s)
	}
}

// UsesHA reports whether the strategy enables high availability.
func (k StrategyKind) UsesHA() bool {
	return k == StrategyHA || k == StrategyHABackup
}

// UsesBackup reports whether the strategy takes and restores a backup.
func (k StrategyKind) UsesBackup() bool {
	return k == StrategyBackup || k == StrategyHABackup
}

func (k StrategyKind) String() string { return string(k) }
