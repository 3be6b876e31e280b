package service

import (
	"time"

	"github.com/servevlc/platform/services/sync-service/domain/entity"
)

// Decision is the outcome of comparing a record present in both stores
type Decision int

const (
	// DecisionNone leaves both sides untouched
	DecisionNone Decision = iota
	// DecisionPushLocal overwrites the remote record with the local one
	DecisionPushLocal
	// DecisionPullRemote overwrites the local record with the remote one
	DecisionPullRemote
)

// String returns a log-friendly name
func (d Decision) String() string {
	switch d {
	case DecisionPushLocal:
		return "push_local"
	case DecisionPullRemote:
		return "pull_remote"
	default:
		return "none"
	}
}

// ConflictPolicy decides last-write-wins conflicts.
type ConflictPolicy struct {
	// EqualityShortCircuit suppresses writes between records that hold the
	// same business data, whatever their timestamps say.
	EqualityShortCircuit bool
}

// Resolve applies the policy. sameData is only consulted when the
// short-circuit is enabled.
func (p ConflictPolicy) Resolve(local, remote *time.Time, sameData bool) Decision {
	if p.EqualityShortCircuit && sameData {
		return DecisionNone
	}
	return Decide(local, remote)
}

// Decide is pure last-write-wins: the strictly later timestamp wins, a
// known timestamp beats an unknown one, and ties (including two unknown
// timestamps) are no-ops.
func Decide(local, remote *time.Time) Decision {
	switch {
	case local == nil && remote == nil:
		return DecisionNone
	case local == nil:
		return DecisionPullRemote
	case remote == nil:
		return DecisionPushLocal
	}

	l, r := entity.Truncate(*local), entity.Truncate(*remote)
	switch {
	case l.After(r):
		return DecisionPushLocal
	case r.After(l):
		return DecisionPullRemote
	default:
		return DecisionNone
	}
}
