package orchestrator

import (
	"context"
	"log"

	"github.com/handshake/coordinator/internal/timeline"
)

// timelineRecorder is the subset of timeline.Recorder the adapter needs.
type timelineRecorder interface {
	Record(ctx context.Context, e timeline.Event) error
}

// TimelineRecorder adapts a timeline.Recorder to the orchestrator's
// Recorder capability: a failed write is logged, never propagated, since
// a missed audit entry must not block a challenge transition.
type TimelineRecorder struct {
	rec timelineRecorder
}

// NewTimelineRecorder wraps rec as a Recorder.
func NewTimelineRecorder(rec timelineRecorder) *TimelineRecorder {
	return &TimelineRecorder{rec: rec}
}

func (t *TimelineRecorder) Record(ctx context.Context, challengeID, kind string, detail map[string]interface{}) {
	err := t.rec.Record(ctx, timeline.Event{
		ChallengeID: challengeID,
		Kind:        kind,
		Detail:      detail,
	})
	if err != nil {
		log.Printf("orchestrator: record timeline event %s/%s failed: %v", challengeID, kind, err)
	}
}
