package policy

import (
	"errors"
	"fmt"
	"log/slog"
)

// Candidate pairs an optimizer identity with the location of its artifact.
// Candidates are evaluated in priority order by Select.
type Candidate struct {
	Optimizer string
	Path      string
}

// Selection is the policy a process serves for its whole lifetime. The
// decision is a startup snapshot: intra-day counter changes do not retarget
// a running process, a restart picks up the new state.
type Selection struct {
	Optimizer string
	Artifact  *Artifact
}

// LoadFunc abstracts artifact loading so Select stays testable without a
// filesystem.
type LoadFunc func(path string) (*Artifact, error)

// DefaultCandidates returns the artifact locations checked at startup, in
// priority order. A hand-delivered GEPA artifact outranks the scheduler's
// bootstrap output.
func DefaultCandidates(dir string) []Candidate {
	return []Candidate{
		{Optimizer: "gepa", Path: ArtifactPath(dir, "gepa")},
		{Optimizer: "bootstrap", Path: ArtifactPath(dir, "bootstrap")},
	}
}

// Select decides the serving policy. If today's thumbs-down count has
// reached the threshold, the first candidate with a loadable artifact wins;
// otherwise, or when no artifact is present, the baseline is served.
// A missing artifact only skips that candidate; a corrupt artifact is a
// hard error, propagated so startup fails fast.
func Select(thumbsDownToday, threshold int, candidates []Candidate, load LoadFunc) (Selection, error) {
	baseline := Selection{Optimizer: BaselineID, Artifact: Baseline()}

	if thumbsDownToday < threshold {
		return baseline, nil
	}

	for _, c := range candidates {
		a, err := load(c.Path)
		if errors.Is(err, ErrNotFound) {
			slog.Warn("optimized artifact missing, checking next candidate",
				"optimizer", c.Optimizer, "path", c.Path)
			continue
		}
		if err != nil {
			return Selection{}, fmt.Errorf("loading artifact for %s: %w", c.Optimizer, err)
		}
		return Selection{Optimizer: c.Optimizer, Artifact: a}, nil
	}

	slog.Warn("thumbs-down threshold reached but no optimized artifact found, serving baseline",
		"thumbs_down_today", thumbsDownToday, "threshold", threshold)
	return baseline, nil
}
