package progress

import (
	"fmt"
	"math"
	"time"

	"github.com/backyonatan-alt/sitewatch/internal/model"
)

const (
	stallWindowDays   = 20
	escalateAfterDays = 60
	percentPerDay     = 2
	maxChangePercent  = 100
	baselineNote      = "first monitoring snapshot"
)

// Result is the classification of a new snapshot against the previous one.
type Result struct {
	Analysis model.ProgressAnalysis
	Escalate bool
}

// Classifier maps the previous snapshot and the current time to a Result.
// Implementations must be pure.
type Classifier func(previous *model.Snapshot, now time.Time) Result

// Classify is the elapsed-time heuristic. The new snapshot's content is not
// compared; only the age of the previous capture matters.
func Classify(previous *model.Snapshot, now time.Time) Result {
	if previous == nil {
		return Result{Analysis: model.ProgressAnalysis{
			Status: model.StatusBaseline,
			Notes:  baselineNote,
		}}
	}

	days := DaysSince(previous.CapturedAt, now)

	if days < stallWindowDays {
		// The escalation check sits inside the stall window, so it never fires.
		return Result{
			Analysis: model.ProgressAnalysis{
				Status: model.StatusStalled,
				Notes:  fmt.Sprintf("no significant change detected; last capture %d days ago", days),
			},
			Escalate: days > escalateAfterDays,
		}
	}

	pct := math.Min(maxChangePercent, float64(days*percentPerDay))
	return Result{Analysis: model.ProgressAnalysis{
		Status:           model.StatusProgress,
		ChangePercentage: &pct,
		Notes:            fmt.Sprintf("progress detected; %d days since last capture", days),
	}}
}

// DaysSince returns the number of whole days from then to now.
func DaysSince(then, now time.Time) int {
	return int(math.Floor(now.Sub(then).Hours() / 24))
}
