// Package monitor implements the polling side of the engine: the
// staggered per-entity task loop (TaskMonitor), its HTTP-aware layer
// (HttpTaskMonitor — conditional requests, adaptive interval, session
// reuse), the record-store-backed feed layer (BaseFeedMonitor — dedup,
// update tracking, priming), and pagination support (PagedFeedMonitor).
// Concrete monitor plugins compose these the same way actorkit's
// Monitor/Filter/Action are composed: by supplying a callback, not by
// subclassing.
package monitor

import (
	"time"

	"github.com/nugget/waymark/internal/httpkit"
)

// TaskMonitorEntity is the entity shape every monitor tier builds on:
// just a name and how often it should be checked.
type TaskMonitorEntity struct {
	Name           string
	UpdateInterval time.Duration
}

// HttpTaskMonitorEntity adds the HTTP-specific knobs: a cookies file
// (Netscape format) shared with any other entity that names the same
// file, custom headers, whether the response's own caching headers
// should drive the polling interval, and the mutable conditional-request
// state carried between polls.
type HttpTaskMonitorEntity struct {
	TaskMonitorEntity

	CookiesFile          string
	Headers              map[string]string
	AdjustUpdateInterval bool

	// BaseUpdateInterval is the configured interval; UpdateInterval
	// drifts away from it under back-off and is restored to it on a
	// successful poll that doesn't itself recompute the interval.
	BaseUpdateInterval time.Duration

	State httpkit.EndpointState
}

// NewHttpTaskMonitorEntity returns an entity with BaseUpdateInterval
// pinned to the configured UpdateInterval, mirroring the source's
// model_post_init hook.
func NewHttpTaskMonitorEntity(name string, updateInterval time.Duration) *HttpTaskMonitorEntity {
	e := &HttpTaskMonitorEntity{
		TaskMonitorEntity:    TaskMonitorEntity{Name: name, UpdateInterval: updateInterval},
		Headers:              map[string]string{"Accept-Language": "en-US,en;q=0.9"},
		AdjustUpdateInterval: true,
		BaseUpdateInterval:   updateInterval,
	}
	return e
}

// sessionKey identifies entities that should share an *http.Client:
// same cookies file, same headers.
func (e *HttpTaskMonitorEntity) sessionKey() string {
	key := e.CookiesFile + "|"
	for k, v := range e.Headers {
		key += k + "=" + v + ";"
	}
	return key
}

// BaseFeedMonitorEntity adds the feed-monitor knobs: the URL to poll and
// the two first-run quieting options.
type BaseFeedMonitorEntity struct {
	HttpTaskMonitorEntity

	URL string

	// QuietStart discards every record produced on the very next poll,
	// regardless of whether the store already holds history for this
	// entity.
	QuietStart bool
	// QuietFirstTime discards records on the first poll only when the
	// store has no prior history for this entity at all.
	QuietFirstTime bool
}

// PagedFeedMonitorEntity adds pagination controls.
type PagedFeedMonitorEntity struct {
	BaseFeedMonitorEntity

	MaxContinuationDepth    int
	NextPageDelay           time.Duration
	AllowDiscontinuity      bool
	FetchUntilEndOfFeedMode bool
}

// NewPagedFeedMonitorEntity applies the defaults used throughout the
// reference feed plugins. It does not apply the archival-mode coupling
// (fetch-until-the-end-of-feed mode implies quiet_first_time=false and
// quiet_start=false, since the whole point of that mode is to emit every
// historical record instead of discarding them);
// ApplyFetchUntilEndOfFeedMode does, once FetchUntilEndOfFeedMode is set.
func NewPagedFeedMonitorEntity(name, url string, updateInterval time.Duration) *PagedFeedMonitorEntity {
	e := &PagedFeedMonitorEntity{
		BaseFeedMonitorEntity: BaseFeedMonitorEntity{
			HttpTaskMonitorEntity: *NewHttpTaskMonitorEntity(name, updateInterval),
			URL:                   url,
			QuietFirstTime:        true,
		},
		MaxContinuationDepth: 10,
		NextPageDelay:        time.Second,
	}
	return e
}

// ApplyFetchUntilEndOfFeedMode re-applies the model_post_init coupling
// after FetchUntilEndOfFeedMode is toggled by config loading.
func (e *PagedFeedMonitorEntity) ApplyFetchUntilEndOfFeedMode() {
	if e.FetchUntilEndOfFeedMode {
		e.QuietFirstTime = false
		e.QuietStart = false
	}
}
