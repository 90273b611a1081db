package collector

import (
	"context"

	"github.com/chpc-uofu/arbiter2d/pkg/model"
)

// Fake is a scripted Collector test double: each call to Sample pops
// the next entry of Ticks. It lets aggregator/scorer/status tests
// exercise a deterministic sequence of UsageSamples on any platform,
// the same way the teacher isolates its hermetic /proc-reading tests
// from the rest of its suite.
type Fake struct {
	UIDs  []int
	Ticks [][]model.UsageSample
	pos   int
}

func (f *Fake) DiscoverUIDs() ([]int, error) { return f.UIDs, nil }

func (f *Fake) Sample(_ context.Context, _ []int) ([]model.UsageSample, error) {
	if f.pos >= len(f.Ticks) {
		return nil, nil
	}
	s := f.Ticks[f.pos]
	f.pos++
	return s, nil
}
