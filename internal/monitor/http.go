package monitor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/nugget/waymark/internal/actorkit"
	"github.com/nugget/waymark/internal/httpkit"
	"github.com/nugget/waymark/internal/record"
	"github.com/nugget/waymark/internal/runtime"
)

// HttpGetRecordsFunc fetches and parses whatever a single HTTP request
// (or request sequence) can produce for entity, using client — which
// HttpTaskMonitor has already configured with entity's cookies and
// headers. It must not retry; on a transient failure it should adjust
// entity.UpdateInterval itself (typically via HttpTaskMonitor.RequestRaw,
// which does this automatically) and return an empty, non-error result.
type HttpGetRecordsFunc func(ctx context.Context, entity *HttpTaskMonitorEntity, client *http.Client) ([]record.Record, error)

// HttpTaskMonitor layers conditional requests, adaptive polling interval,
// and a per-host circuit breaker onto TaskMonitor. Entities that share a
// cookies file and header set share one *http.Client, the same way the
// source shares one aiohttp.ClientSession per (cookies_file, headers)
// pair.
type HttpTaskMonitor struct {
	task   *TaskMonitor
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*http.Client
	breakers map[string]*gobreaker.CircuitBreaker[*http.Response]

	byName map[string]*HttpTaskMonitorEntity
}

// NewHttpTaskMonitor builds an HttpTaskMonitor named actorName.
func NewHttpTaskMonitor(rt *actorkit.Runtime, controller *runtime.Controller, actorName string, entities []*HttpTaskMonitorEntity, fn HttpGetRecordsFunc) *HttpTaskMonitor {
	m := &HttpTaskMonitor{
		logger:   rt.Logger.With().Str("actor", actorName).Logger(),
		sessions: make(map[string]*http.Client),
		breakers: make(map[string]*gobreaker.CircuitBreaker[*http.Response]),
		byName:   make(map[string]*HttpTaskMonitorEntity, len(entities)),
	}
	baseEntities := make([]*TaskMonitorEntity, len(entities))
	for i, e := range entities {
		m.byName[e.Name] = e
		baseEntities[i] = &e.TaskMonitorEntity
	}

	m.task = NewTaskMonitor(rt, controller, actorName, baseEntities, func(ctx context.Context, base *TaskMonitorEntity) ([]record.Record, error) {
		entity := m.byName[base.Name]
		client := m.session(entity)
		return fn(ctx, entity, client)
	})
	return m
}

// Start begins polling every entity.
func (m *HttpTaskMonitor) Start() { m.task.Start() }

// session returns the shared *http.Client for entity's (cookies, headers)
// pair, building one on first use.
func (m *HttpTaskMonitor) session(entity *HttpTaskMonitorEntity) *http.Client {
	key := entity.sessionKey()

	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.sessions[key]; ok {
		return c
	}

	jar, err := httpkit.LoadNetscapeCookieJar(entity.CookiesFile)
	if err != nil {
		m.logger.Warn().Str("entity", entity.Name).Err(err).Msg("failed to load cookies file, continuing without cookies")
	}
	client := httpkit.NewClient(httpkit.WithLogger(m.logger))
	if jar != nil {
		client.Jar = jar
	}
	m.sessions[key] = client
	return client
}

// breaker returns the circuit breaker for host, building one on first use.
// Breakers are keyed per host rather than per entity: several entities
// polling the same flaky host should trip together instead of each
// hammering it on its own schedule.
func (m *HttpTaskMonitor) breaker(host string) *gobreaker.CircuitBreaker[*http.Response] {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok := m.breakers[host]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.logger.Warn().Str("host", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	m.breakers[host] = cb
	return cb
}

// RequestRaw performs a single conditional HTTP request for entity and
// applies the adaptive-interval rule to entity.UpdateInterval from the
// outcome, mirroring HttpTaskMonitor.request_raw: callers never retry
// here, they adjust the polling cadence instead.
//
// It returns (nil, nil, nil) whenever the caller should treat this poll as
// having produced nothing — a transient error, a 4xx/5xx status, or a
// 304 Not Modified. After an error or a 4xx/5xx the interval is already
// updated as a side effect; a 304 leaves it unchanged.
// The body is read and the response closed before returning, so the
// bytes come back separately rather than through resp.Body.
func (m *HttpTaskMonitor) RequestRaw(ctx context.Context, url string, entity *HttpTaskMonitorEntity, client *http.Client, method string, extraHeaders map[string]string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("monitor: build request for %s: %w", url, err)
	}
	for k, v := range entity.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}
	entity.State.ApplyTo(req)

	host := req.URL.Host
	resp, err := m.breaker(host).Execute(func() (*http.Response, error) {
		return client.Do(req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			m.logger.Warn().Str("entity", entity.Name).Str("url", url).Str("host", host).Err(err).Msg("circuit open, skipping request")
		} else {
			m.logger.Warn().Str("entity", entity.Name).Str("url", url).Err(err).Msg("request failed")
		}
		entity.UpdateInterval = httpkit.Delay{}.GetNext(entity.UpdateInterval)
		return nil, nil, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		m.logger.Warn().Str("entity", entity.Name).Str("url", url).Err(err).Msg("failed reading response body")
		entity.UpdateInterval = httpkit.Delay{}.GetNext(entity.UpdateInterval)
		return nil, nil, nil
	}

	if resp.StatusCode >= 400 {
		m.logger.Warn().Str("entity", entity.Name).Str("url", url).Int("status", resp.StatusCode).Msg("non-2xx response")
		entity.UpdateInterval = httpkit.DecideUpdateInterval(resp.StatusCode, resp.Header, entity.UpdateInterval, entity.BaseUpdateInterval, entity.AdjustUpdateInterval)
		return nil, nil, nil
	}

	if resp.StatusCode == http.StatusNotModified {
		m.logger.Debug().Str("entity", entity.Name).Str("url", url).Msg("not modified")
		return nil, nil, nil
	}

	// Some servers omit cache headers on 304 responses, so state is only
	// refreshed here, on a confirmed 200.
	entity.State.UpdateFrom(resp.Header)
	entity.UpdateInterval = httpkit.DecideUpdateInterval(resp.StatusCode, resp.Header, entity.UpdateInterval, entity.BaseUpdateInterval, entity.AdjustUpdateInterval)

	return resp, body, nil
}

// Request is RequestRaw for callers that only want the body text.
func (m *HttpTaskMonitor) Request(ctx context.Context, url string, entity *HttpTaskMonitorEntity, client *http.Client, method string, extraHeaders map[string]string) (string, error) {
	_, body, err := m.RequestRaw(ctx, url, entity, client, method, extraHeaders)
	if err != nil || body == nil {
		return "", err
	}
	return string(body), nil
}
