package parking

// StreamState expresses what a writer expects the target stream to look like
// at append time. Stores enforce the expectation atomically with the append.
type StreamState interface {
	toRawInt64() int64
}

// Any means append without checking the current revision.
type Any struct{}

func (Any) toRawInt64() int64 { return -1 } // special marker

// NoStream means the stream must not exist yet.
type NoStream struct{}

func (NoStream) toRawInt64() int64 { return 0 }

// StreamExists means the stream must already exist, at any revision.
type StreamExists struct{}

func (StreamExists) toRawInt64() int64 { return -2 } // special marker

// Revision expects the stream to be at exactly this revision, i.e. to contain
// this many events.
type Revision uint64

func (r Revision) toRawInt64() int64 { return int64(r) }
