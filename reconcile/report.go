package reconcile

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/warp/rank-engine/ranking"
)

// Status is the per-user outcome of a reconciliation run.
type Status string

const (
	StatusUpdated Status = "updated"
	StatusSkipped Status = "skipped" // already synchronized, nothing to do
	StatusErrored Status = "errored"
)

// UserResult is one user's outcome.
type UserResult struct {
	UserID      ranking.UserID `json:"user_id"`
	Status      Status         `json:"status"`
	PointsAdded ranking.Points `json:"points_added"`
	Periods     int            `json:"periods"`
	RankBefore  ranking.RankID `json:"rank_before,omitempty"`
	RankAfter   ranking.RankID `json:"rank_after,omitempty"`
	Err         error          `json:"-"`
	Error       string         `json:"error,omitempty"`
}

// Report is the full accounting of one batch run. It is always complete:
// every targeted user appears exactly once, errors included.
type Report struct {
	RunID       string    `json:"run_id"`
	Scope       string    `json:"scope"`
	Policy      Policy    `json:"policy"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	Results []UserResult `json:"results"`

	Processed   int `json:"processed"`
	Updated     int `json:"updated"`
	Skipped     int `json:"skipped"`
	Errored     int `json:"errored"`
	NewlyRanked int `json:"newly_ranked"` // users that had no rank before

	// Distribution counts users per rank tier after the run.
	Distribution map[ranking.RankID]int `json:"distribution,omitempty"`
}

// Add folds one user result into the aggregate counters.
func (r *Report) Add(result UserResult) {
	if result.Err != nil {
		result.Error = result.Err.Error()
	}
	r.Results = append(r.Results, result)

	r.Processed++
	switch result.Status {
	case StatusUpdated:
		r.Updated++
		if result.RankBefore == "" && result.RankAfter != "" {
			r.NewlyRanked++
		}
	case StatusSkipped:
		r.Skipped++
	case StatusErrored:
		r.Errored++
	}
}

// String renders the report for console output.
func (r *Report) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Reconciliation %s (%s, scope=%s)\n", r.RunID, r.Policy, r.Scope)
	for _, res := range r.Results {
		switch res.Status {
		case StatusSkipped:
			fmt.Fprintf(&b, "  %-20s skipped, already synchronized\n", res.UserID)
		case StatusErrored:
			fmt.Fprintf(&b, "  %-20s ERROR: %s\n", res.UserID, res.Error)
		default:
			fmt.Fprintf(&b, "  %-20s +%s points over %d period(s), rank %s -> %s\n",
				res.UserID, res.PointsAdded, res.Periods,
				orDash(res.RankBefore), orDash(res.RankAfter))
		}
	}

	fmt.Fprintf(&b, "Summary: %d processed, %d updated (%d newly ranked), %d skipped, %d errored\n",
		r.Processed, r.Updated, r.NewlyRanked, r.Skipped, r.Errored)

	if len(r.Distribution) > 0 {
		ids := make([]string, 0, len(r.Distribution))
		for id := range r.Distribution {
			ids = append(ids, string(id))
		}
		sort.Strings(ids)
		b.WriteString("Users per rank:")
		for _, id := range ids {
			fmt.Fprintf(&b, " %s=%d", id, r.Distribution[ranking.RankID(id)])
		}
		b.WriteString("\n")
	}

	return b.String()
}

func orDash(id ranking.RankID) string {
	if id == "" {
		return "-"
	}
	return string(id)
}
