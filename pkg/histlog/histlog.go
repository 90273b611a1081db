// Package histlog defines the historical event log contract spec.md §6
// calls for. Production logging to a long-term store is an external
// collaborator out of scope here (spec.md §1); this package only
// fixes the interface and a throttling helper for the high-usage
// snapshot feature.
package histlog

import (
	"context"

	"github.com/chpc-uofu/arbiter2d/pkg/model"
)

// Recorder persists a user's event ring to a historical log.
// Production implementations (e.g. a separate SQLite event-log
// service) live outside this module.
type Recorder interface {
	Record(ctx context.Context, uid int, ring []model.Event) error
}
