package search

import "github.com/cloudpaste/cloudpaste/pkg/types"

// Action is one admin-UI recommendation for a mount's index health.
type Action string

const (
	ActionNone       Action = "none"
	ActionRebuild    Action = "rebuild"
	ActionApplyDirty Action = "apply-dirty"
	ActionWait       Action = "wait"
)

const dirtyRebuildThreshold = 5000

// Recommend implements the admin-UI recommendation logic (§4.7). It is
// advisory only; nothing in this package acts on it automatically.
func Recommend(dirtyCount int, status types.FsIndexStatus) Action {
	if dirtyCount >= dirtyRebuildThreshold {
		return ActionRebuild
	}
	if dirtyCount > 0 {
		return ActionApplyDirty
	}
	if status == types.IndexIndexing {
		return ActionWait
	}
	if status != types.IndexReady {
		return ActionRebuild
	}
	return ActionNone
}
