package orchestrator

import "github.com/codeofaxel/kiln/pkg/types"

// Selector picks which idle printer should take a queued job. idleLabels
// is already filtered to printers currently reporting idle; it carries no
// particular order guarantee beyond whatever the caller passed in.
type Selector interface {
	Select(job *types.Job, idleLabels []string) string // "" if none eligible
}

// DefaultSelector implements the registry ordering used throughout Kiln:
// skip any printer the job has already failed on, prefer the job's
// requested printer if it's still eligible, otherwise take the first
// eligible candidate in the order given.
type DefaultSelector struct{}

func (DefaultSelector) Select(job *types.Job, idleLabels []string) string {
	eligible := make([]string, 0, len(idleLabels))
	for _, label := range idleLabels {
		if _, failed := job.FailedPrinters[label]; failed {
			continue
		}
		eligible = append(eligible, label)
	}
	if len(eligible) == 0 {
		return ""
	}

	if job.PreferredPrinter != "" {
		for _, label := range eligible {
			if label == job.PreferredPrinter {
				return label
			}
		}
	}

	return eligible[0]
}
