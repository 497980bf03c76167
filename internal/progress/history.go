package progress

import (
	"time"

	"github.com/backyonatan-alt/sitewatch/internal/model"
)

// Annotate classifies snap against the last entry of history and returns the
// snapshot with its analysis attached, the extended history, and the escalate
// flag. history is never modified in place.
func Annotate(classify Classifier, history []model.Snapshot, snap model.Snapshot, now time.Time) (model.Snapshot, []model.Snapshot, bool) {
	var previous *model.Snapshot
	if len(history) > 0 {
		last := history[len(history)-1]
		previous = &last
	}

	result := classify(previous, now)
	analysis := result.Analysis
	snap.Analysis = &analysis

	out := make([]model.Snapshot, len(history), len(history)+1)
	copy(out, history)
	out = append(out, snap)
	return snap, out, result.Escalate
}
