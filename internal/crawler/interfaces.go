package crawler

import (
	"context"
	"time"
)

// PageFetcher fetches a URL and returns the document plus metadata.
// Errors wrap ErrTimeout, ErrNetwork or ErrChallenge.
type PageFetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (Page, error)
}

// SessionRestarter tears down and recreates a fetch session.
type SessionRestarter interface {
	Restart(ctx context.Context) error
}

// Session is a worker-owned fetch session.
type Session interface {
	PageFetcher
	SessionRestarter
	Close() error
}

// IdentityRotator swaps the network identity used by subsequent fetches.
type IdentityRotator interface {
	Rotate(ctx context.Context) error
	Current() Identity
}

// Adapter encapsulates one publisher's archive layout and article markup.
type Adapter interface {
	Name() string
	Key() string
	Host() string
	Granularity() Granularity
	ListingURL(unit WorkUnit) string
	ListingLinks(page Page) ([]string, error)
	Filter() LinkFilter
	Extract(page Page) (Item, error)
}

// CheckpointStore persists the last fully processed unit per partition.
type CheckpointStore interface {
	Read(ctx context.Context, partition string) (WorkUnit, bool, error)
	Advance(ctx context.Context, partition string, unit WorkUnit) error
}

// QuotaTracker counts items captured per unit.
type QuotaTracker interface {
	Cap() int
	Get(ctx context.Context, unit WorkUnit) (int, error)
	Remaining(ctx context.Context, unit WorkUnit) (int, error)
	Increment(ctx context.Context, unit WorkUnit) (int, error)
}

// OutputSink appends items exactly once per dedup key.
// Append reports whether the item was newly stored.
type OutputSink interface {
	Append(ctx context.Context, item Item) (bool, error)
	Close() error
}

// Detector inspects a fetched page and returns an ErrChallenge-wrapped error
// when it is a verification or block page.
type Detector interface {
	Detect(page Page) error
}

// RobotsPolicy decides whether a URL may be fetched.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// Limiter paces requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Hasher computes digests for deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
