package monitor

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/nugget/waymark/internal/actorkit"
	"github.com/nugget/waymark/internal/metrics"
	"github.com/nugget/waymark/internal/record"
	"github.com/nugget/waymark/internal/runtime"
)

// GetNewRecordsFunc produces whatever new records exist for entity since
// its last poll. It may mutate entity.UpdateInterval to adjust how soon
// the next poll happens (back-off, adaptive interval); TaskMonitor reads
// the field fresh after every call.
type GetNewRecordsFunc func(ctx context.Context, entity *TaskMonitorEntity) ([]record.Record, error)

// TaskMonitor runs one goroutine per entity, each looping
// poll-then-sleep(UpdateInterval) forever, staggered so that entities
// sharing an update interval don't all fire in the same instant. A
// goroutine that panics or returns an error terminates only that
// entity's task — per the shared task-controller contract, one entity
// dying never takes down the others.
type TaskMonitor struct {
	mon        *actorkit.Monitor
	controller *runtime.Controller
	logger     zerolog.Logger

	entities      []*TaskMonitorEntity
	getNewRecords GetNewRecordsFunc
}

// NewTaskMonitor builds a TaskMonitor named actorName. entities and fn are
// supplied by the concrete plugin; fn is this monitor's only
// plugin-specific behavior, mirroring how actorkit.Filter/Action take a
// callback instead of being subclassed.
func NewTaskMonitor(rt *actorkit.Runtime, controller *runtime.Controller, actorName string, entities []*TaskMonitorEntity, fn GetNewRecordsFunc) *TaskMonitor {
	names := make([]string, len(entities))
	for i, e := range entities {
		names[i] = e.Name
	}
	return &TaskMonitor{
		mon:           actorkit.NewMonitor(rt, actorName, names),
		controller:    controller,
		logger:        rt.Logger.With().Str("actor", actorName).Logger(),
		entities:      entities,
		getNewRecords: fn,
	}
}

// Start groups entities by configured update interval and starts one
// controller task per entity, each group's tasks staggered by
// interval/len(group) so a burst of identically-configured entities
// doesn't hammer their sources all at once.
func (m *TaskMonitor) Start() {
	groups := make(map[time.Duration][]*TaskMonitorEntity)
	for _, e := range m.entities {
		groups[e.UpdateInterval] = append(groups[e.UpdateInterval], e)
	}

	intervals := make([]time.Duration, 0, len(groups))
	for interval := range groups {
		intervals = append(intervals, interval)
	}
	sort.Slice(intervals, func(i, j int) bool { return intervals[i] < intervals[j] })

	for _, interval := range intervals {
		group := groups[interval]
		stagger := interval / time.Duration(len(group))
		m.startGroup(group, stagger)
	}
}

func (m *TaskMonitor) startGroup(group []*TaskMonitorEntity, stagger time.Duration) {
	for i, entity := range group {
		entity := entity
		delay := time.Duration(i) * stagger
		m.controller.CreateTask(entity.Name, runtime.TaskInfo{Name: "monitor", EntityRef: entity.Name}, func(ctx context.Context) error {
			if delay > 0 {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-ctx.Done():
					return nil
				case <-timer.C:
				}
			}
			return m.runFor(ctx, entity)
		})
	}
}

func (m *TaskMonitor) runFor(ctx context.Context, entity *TaskMonitorEntity) error {
	for {
		if err := m.runOnce(ctx, entity); err != nil {
			m.logger.Error().Str("entity", entity.Name).Err(err).Msg("task failed, terminating")
			return err
		}

		timer := time.NewTimer(entity.UpdateInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (m *TaskMonitor) runOnce(ctx context.Context, entity *TaskMonitorEntity) error {
	records, err := m.getNewRecords(ctx, entity)
	if err != nil {
		metrics.MonitorPollsTotal.WithLabelValues(m.mon.Name(), "error").Inc()
		return err
	}
	metrics.MonitorPollsTotal.WithLabelValues(m.mon.Name(), "ok").Inc()

	for _, rec := range records {
		m.mon.Emit(entity.Name, rec)
	}
	if len(records) > 0 {
		metrics.MonitorRecordsEmitted.WithLabelValues(m.mon.Name()).Add(float64(len(records)))
	}
	return nil
}
