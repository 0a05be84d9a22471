package monitor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/nugget/waymark/internal/actorkit"
	"github.com/nugget/waymark/internal/record"
	"github.com/nugget/waymark/internal/runtime"
	"github.com/nugget/waymark/internal/store"
)

// FetchRecordsFunc fetches and parses entity's resource, returning every
// record currently present — old and new alike. BaseFeedMonitor is
// responsible for filtering out the ones already seen.
type FetchRecordsFunc func(ctx context.Context, entity *BaseFeedMonitorEntity, client *http.Client) ([]record.Record, error)

// RecordIDFunc returns the part of a record's identity that stays stable
// across content updates (e.g. a GUID or permalink) — distinct from
// Hash(), which changes whenever content changes. BaseFeedMonitor
// combines it with the entity name to get the store's uid column.
type RecordIDFunc func(record.Record) string

// BaseFeedMonitor wires HttpTaskMonitor to a content-addressed record
// store: every poll's records are deduped by (uid, hashsum), new ones are
// forwarded, and both new and changed-but-seen ones are persisted.
type BaseFeedMonitor struct {
	http   *HttpTaskMonitor
	store  *store.Store
	logger zerolog.Logger

	byName      map[string]*BaseFeedMonitorEntity
	getRecordID RecordIDFunc
}

// NewBaseFeedMonitor builds a BaseFeedMonitor named actorName, backed by
// db (already open). fetch produces a page's worth — or a feed's worth —
// of records; getRecordID extracts each record's natural identity.
func NewBaseFeedMonitor(rt *actorkit.Runtime, controller *runtime.Controller, actorName string, db *store.Store, entities []*BaseFeedMonitorEntity, fetch FetchRecordsFunc, getRecordID RecordIDFunc) *BaseFeedMonitor {
	m := &BaseFeedMonitor{
		store:       db,
		logger:      rt.Logger.With().Str("actor", actorName).Logger(),
		byName:      make(map[string]*BaseFeedMonitorEntity, len(entities)),
		getRecordID: getRecordID,
	}

	httpEntities := make([]*HttpTaskMonitorEntity, len(entities))
	for i, e := range entities {
		m.byName[e.Name] = e
		httpEntities[i] = &e.HttpTaskMonitorEntity
	}

	m.http = NewHttpTaskMonitor(rt, controller, actorName, httpEntities, func(ctx context.Context, httpEntity *HttpTaskMonitorEntity, client *http.Client) ([]record.Record, error) {
		entity := m.byName[httpEntity.Name]
		records, err := fetch(ctx, entity, client)
		if err != nil {
			return nil, err
		}
		return m.filterNewRecords(records, entity), nil
	})
	return m
}

// recordUID returns the store key for one of entity's records: the
// entity name scopes the natural record ID, so the same feed item ID
// from two differently-configured entities never collides.
func (m *BaseFeedMonitor) recordUID(rec record.Record, entity *BaseFeedMonitorEntity) string {
	return entity.Name + ":" + m.getRecordID(rec)
}

func (m *BaseFeedMonitor) recordIsNew(rec record.Record, entity *BaseFeedMonitorEntity) (bool, error) {
	exists, err := m.store.RowExists(m.recordUID(rec, entity), "")
	if err != nil {
		return false, err
	}
	return !exists, nil
}

func (m *BaseFeedMonitor) recordGotUpdated(rec record.Record, entity *BaseFeedMonitorEntity) (bool, error) {
	uid := m.recordUID(rec, entity)
	hadAny, err := m.store.RowExists(uid, "")
	if err != nil || !hadAny {
		return false, err
	}
	hadThisVersion, err := m.store.RowExists(uid, rec.Hash())
	if err != nil {
		return false, err
	}
	return !hadThisVersion, nil
}

func (m *BaseFeedMonitor) storeRecords(records []record.Record, entity *BaseFeedMonitorEntity) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]store.Row, len(records))
	now := time.Now().UTC()
	for i, rec := range records {
		rows[i] = store.Row{
			ParsedAt:  now,
			FeedName:  entity.Name,
			UID:       m.recordUID(rec, entity),
			Hashsum:   rec.Hash(),
			ClassName: rec.TypeName(),
			AsJSON:    rec.AsJSON(),
		}
	}
	return m.store.Store(rows)
}

// filterNewRecords persists every record passed in (so content updates
// are tracked even when nothing new is forwarded) and returns only the
// ones whose uid wasn't already in the store.
func (m *BaseFeedMonitor) filterNewRecords(records []record.Record, entity *BaseFeedMonitorEntity) []record.Record {
	var fresh []record.Record
	for _, rec := range records {
		isNew, err := m.recordIsNew(rec, entity)
		if err != nil {
			m.logger.Warn().Str("entity", entity.Name).Err(err).Msg("failed checking record novelty, treating as not new")
			continue
		}
		if isNew {
			fresh = append(fresh, rec)
			m.logger.Debug().Str("entity", entity.Name).Str("hash", rec.Hash()[:5]).Msg("fetched record is new")
			continue
		}
		if updated, err := m.recordGotUpdated(rec, entity); err == nil && updated {
			m.logger.Debug().Str("entity", entity.Name).Str("hash", rec.Hash()[:5]).Msg("storing new version of previously seen record")
		}
	}
	if err := m.storeRecords(records, entity); err != nil {
		m.logger.Warn().Str("entity", entity.Name).Err(err).Msg("failed to persist fetched records")
	}
	return fresh
}

// PrimeDB runs once per entity before polling starts: an entity configured
// with QuietStart, or one with no history in the store and QuietFirstTime
// set, has its very first fetch's records marked as already seen instead
// of forwarded, so
// adding a long-lived feed doesn't dump its entire backlog as new.
func (m *BaseFeedMonitor) PrimeDB(ctx context.Context) error {
	for _, entity := range m.byName {
		size, err := m.store.Size(entity.Name)
		if err != nil {
			return fmt.Errorf("monitor: prime db size for %s: %w", entity.Name, err)
		}

		primingRequired := false
		switch {
		case entity.QuietStart:
			m.logger.Info().Str("entity", entity.Name).Msg("quiet_start enabled, marking all current records as already seen")
			primingRequired = true
		case size == 0:
			m.logger.Info().Str("entity", entity.Name).Msg("no records in store, assuming first run")
			if entity.QuietFirstTime {
				primingRequired = true
			}
		}

		if !primingRequired {
			m.logger.Info().Str("entity", entity.Name).Int("size", size).Msg("records already in store")
			continue
		}

		records, err := m.http.task.getNewRecords(ctx, &entity.TaskMonitorEntity)
		if err != nil {
			return fmt.Errorf("monitor: priming fetch for %s: %w", entity.Name, err)
		}
		m.logger.Debug().Str("entity", entity.Name).Int("count", len(records)).Msg("records marked as already seen on priming")
	}
	return nil
}

// Start primes every entity's store state and then begins polling.
func (m *BaseFeedMonitor) Start(ctx context.Context) error {
	if err := m.PrimeDB(ctx); err != nil {
		return err
	}
	m.http.Start()
	return nil
}
