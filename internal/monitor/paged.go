package monitor

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/nugget/waymark/internal/actorkit"
	"github.com/nugget/waymark/internal/record"
	"github.com/nugget/waymark/internal/runtime"
	"github.com/nugget/waymark/internal/store"
)

// PageResult is what a page handler returns. Ok=false means "this page
// failed to load or parse" (the source's sentinel for this is returning
// None instead of a list) — distinct from Records being empty, which
// means the page loaded fine but held nothing new. Context carries
// whatever continuation token/cursor the next page needs; it's nil when
// there is no next page.
type PageResult struct {
	Ok      bool
	Records []record.Record
	Context any
}

// HandleFirstPageFunc downloads and parses a feed's first page.
type HandleFirstPageFunc func(ctx context.Context, entity *PagedFeedMonitorEntity, client *http.Client) PageResult

// HandleNextPageFunc downloads and parses a continuation page using the
// continuation context returned by the previous page.
type HandleNextPageFunc func(ctx context.Context, entity *PagedFeedMonitorEntity, client *http.Client, continuation any) PageResult

// PagedFeedMonitor adds pagination to BaseFeedMonitor: it keeps
// requesting continuation pages as long as every record on the page just
// fetched was new, up to max_continuation_depth, then returns every
// record gathered in oldest-first order (the feed itself is walked
// newest-first, so the accumulated slice is reversed before returning).
type PagedFeedMonitor struct {
	base   *BaseFeedMonitor
	logger zerolog.Logger

	byName        map[string]*PagedFeedMonitorEntity
	handleFirst   HandleFirstPageFunc
	handleNext    HandleNextPageFunc
	isRecordNew   func(rec record.Record, entity *BaseFeedMonitorEntity) (bool, error)
}

// NewPagedFeedMonitor builds a PagedFeedMonitor named actorName.
func NewPagedFeedMonitor(rt *actorkit.Runtime, controller *runtime.Controller, actorName string, db *store.Store, entities []*PagedFeedMonitorEntity, handleFirst HandleFirstPageFunc, handleNext HandleNextPageFunc, getRecordID RecordIDFunc) *PagedFeedMonitor {
	m := &PagedFeedMonitor{
		logger:      rt.Logger.With().Str("actor", actorName).Logger(),
		byName:      make(map[string]*PagedFeedMonitorEntity, len(entities)),
		handleFirst: handleFirst,
		handleNext:  handleNext,
	}

	baseEntities := make([]*BaseFeedMonitorEntity, len(entities))
	for i, e := range entities {
		e.ApplyFetchUntilEndOfFeedMode()
		m.byName[e.Name] = e
		baseEntities[i] = &e.BaseFeedMonitorEntity
	}

	m.base = NewBaseFeedMonitor(rt, controller, actorName, db, baseEntities, func(ctx context.Context, baseEntity *BaseFeedMonitorEntity, client *http.Client) ([]record.Record, error) {
		entity := m.byName[baseEntity.Name]
		return m.getRecords(ctx, entity, client), nil
	}, getRecordID)
	m.isRecordNew = m.base.recordIsNew

	return m
}

// Start primes every entity's store state and begins polling.
func (m *PagedFeedMonitor) Start(ctx context.Context) error {
	return m.base.Start(ctx)
}

// getRecords implements the continuation loop: walk pages newest-first,
// stop once a page holds a record already in the store (or the
// continuation depth limit is hit), then hand back every record gathered
// in oldest-first order.
func (m *PagedFeedMonitor) getRecords(ctx context.Context, entity *PagedFeedMonitorEntity, client *http.Client) []record.Record {
	first := m.handleFirst(ctx, entity, client)
	if !first.Ok {
		return nil
	}

	records := append([]record.Record(nil), first.Records...)
	currentPageRecords := first.Records
	continuation := first.Context

	if entity.FetchUntilEndOfFeedMode {
		m.logger.Info().Str("entity", entity.Name).Msg("fetch_until_the_end_of_feed_mode enabled, will walk every page until the end")
	}

	currentPage := 1
	for {
		if continuation == nil {
			m.logger.Debug().Str("entity", entity.Name).Int("page", currentPage-1).Msg("no continuation, end of feed reached")
			entity.FetchUntilEndOfFeedMode = false
			break
		}

		if !entity.FetchUntilEndOfFeedMode {
			if currentPage > entity.MaxContinuationDepth {
				m.logger.Info().Str("entity", entity.Name).Int("limit", entity.MaxContinuationDepth).Msg("reached continuation depth limit, aborting update")
				break
			}
			if !m.allNew(currentPageRecords, entity) {
				m.logger.Debug().Str("entity", entity.Name).Int("page", currentPage-1).Msg("found already-stored records on this page")
				break
			}
		}

		next := m.handleNext(ctx, entity, client, continuation)
		if !next.Ok {
			if entity.AllowDiscontinuity || entity.FetchUntilEndOfFeedMode {
				break
			}
			return nil
		}
		records = append(records, next.Records...)
		currentPageRecords = next.Records
		continuation = next.Context

		currentPage++
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(entity.NextPageDelay):
		}
	}

	reverse(records)
	return records
}

func (m *PagedFeedMonitor) allNew(records []record.Record, entity *PagedFeedMonitorEntity) bool {
	for _, rec := range records {
		isNew, err := m.isRecordNew(rec, &entity.BaseFeedMonitorEntity)
		if err != nil || !isNew {
			return false
		}
	}
	return true
}

func reverse(records []record.Record) {
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
}
