// Package notify turns store update events into failure alerts.
package notify

import "github.com/coachpo/statusdeck/internal/schema"

// FindNewlyFailed returns the current deployments whose state is failed and
// whose environment-slot predecessor was absent or not failed. A deployment
// seen failed on first sight is reported: without a prior record there is no
// evidence the failure was already known.
//
// The comparison is stateless per call. Duplicate entries for the same
// environment slot resolve last-write-wins, matching map insertion order.
func FindNewlyFailed(previous, current []schema.DeploymentSummary) []schema.DeploymentSummary {
	prevStates := make(map[schema.EnvSlotKey]schema.DeploymentState, len(previous))
	for _, dep := range previous {
		prevStates[dep.EnvKey()] = dep.State
	}

	winners := make(map[schema.EnvSlotKey]schema.DeploymentKey, len(current))
	for _, dep := range current {
		winners[dep.EnvKey()] = dep.Key()
	}

	var failed []schema.DeploymentSummary
	for _, dep := range current {
		if winners[dep.EnvKey()] != dep.Key() {
			continue
		}
		if dep.State != schema.StateFailed {
			continue
		}
		if prev, ok := prevStates[dep.EnvKey()]; ok && prev == schema.StateFailed {
			continue
		}
		failed = append(failed, dep)
	}
	return failed
}
