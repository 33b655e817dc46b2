package analysis

import (
	"fmt"
	"sort"
	"time"

	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Timing Coordination Detector
//
// Independently acting wallets do not send to the same target within
// minutes of each other; coordinated ones do, because a controller is
// scripting the transfers. The detector scans inbound transfers for
// short windows packed with distinct senders:
//
//   1. Flatten inbound edge samples into (timestamp, source) sends
//   2. Sort by timestamp
//   3. Slide a fixed window across the sorted sends
//   4. A window holding >= minSources distinct senders is one
//      coordination group; scanning resumes past it so a single
//      burst is never counted twice
//
// Confidence scales with how many disjoint groups appear.

// coordinationGroup is one qualifying window found by the sweep.
type coordinationGroup struct {
	start   time.Time
	sources []string
}

// DetectTimingCoordination fires when at least one window of distinct
// coordinated senders exists. Confidence is min(1, groupCount/5).
func DetectTimingCoordination(in DetectorInput, th TimingThresholds) (*models.Finding, error) {
	type send struct {
		at     time.Time
		source string
	}
	var sends []send
	for _, e := range in.Incoming {
		for _, s := range e.Samples {
			sends = append(sends, send{at: s.Timestamp, source: e.Source})
		}
	}
	if len(sends) < th.MinSources {
		return nil, nil
	}
	sort.Slice(sends, func(i, j int) bool { return sends[i].at.Before(sends[j].at) })

	var groups []coordinationGroup
	for i := 0; i < len(sends); {
		distinct := map[string]bool{}
		j := i
		for ; j < len(sends) && sends[j].at.Sub(sends[i].at) <= th.Window; j++ {
			distinct[sends[j].source] = true
		}
		if len(distinct) >= th.MinSources {
			g := coordinationGroup{start: sends[i].at}
			for src := range distinct {
				g.sources = append(g.sources, src)
			}
			sort.Strings(g.sources)
			groups = append(groups, g)
			i = j
			continue
		}
		i++
	}
	if len(groups) == 0 {
		return nil, nil
	}

	largest := groups[0]
	for _, g := range groups[1:] {
		if len(g.sources) > len(largest.sources) {
			largest = g
		}
	}
	confidence := float64(len(groups)) / 5
	if confidence > 1 {
		confidence = 1
	}

	return &models.Finding{
		PatternType: models.PatternTimingCoordination,
		Confidence:  confidence,
		Severity:    models.RiskHigh,
		Description: fmt.Sprintf("%d coordinated send window(s); densest packs %d distinct senders into %s",
			len(groups), len(largest.sources), th.Window),
		Evidence: models.Evidence{Timing: &models.TimingEvidence{
			WindowSeconds: int(th.Window.Seconds()),
			GroupCount:    len(groups),
			LargestGroup:  len(largest.sources),
			WindowStart:   largest.start,
			SourceWallets: largest.sources,
		}},
		ChainSignature: fmt.Sprintf("groups:%d", len(groups)),
	}, nil
}
