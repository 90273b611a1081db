package histlog

import (
	"context"

	"github.com/chpc-uofu/arbiter2d/pkg/model"
)

// RecordingRecorder is a test double for Recorder.
type RecordingRecorder struct {
	Calls []RecordedCall
	Err   error
}

type RecordedCall struct {
	UID  int
	Ring []model.Event
}

func (r *RecordingRecorder) Record(ctx context.Context, uid int, ring []model.Event) error {
	if r.Err != nil {
		return r.Err
	}
	r.Calls = append(r.Calls, RecordedCall{UID: uid, Ring: ring})
	return nil
}
