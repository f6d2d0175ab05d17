package conductor

import (
	"context"
	"time"

	"github.com/muchaco/council/types"
)

// Recorder receives cycle metrics.
type Recorder interface {
	RecordCycle(outcome string, duration time.Duration)
	RecordSelectorTokens(tokens int, estimated bool)
	RecordBreakerTrip(reason string)
	RecordStateChange(from, to string)
}

type nopRecorder struct{}

func (nopRecorder) RecordCycle(string, time.Duration) {}
func (nopRecorder) RecordSelectorTokens(int, bool)    {}
func (nopRecorder) RecordBreakerTrip(string)          {}
func (nopRecorder) RecordStateChange(string, string)  {}

// ArchivedSession is the export written when a session is archived.
type ArchivedSession struct {
	Session    *types.Session  `json:"session" bson:"session"`
	Personas   []types.Persona `json:"personas" bson:"personas"`
	Transcript []types.Message `json:"transcript" bson:"transcript"`
	ArchivedAt time.Time       `json:"archivedAt" bson:"archived_at"`
}

// ArchiveSink stores archived sessions outside the primary database.
type ArchiveSink interface {
	Export(ctx context.Context, a *ArchivedSession) error
}

type nopSink struct{}

func (nopSink) Export(context.Context, *ArchivedSession) error { return nil }
