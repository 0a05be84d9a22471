package httpkit

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

// MaxUpdateInterval is the ceiling the back-off (Delay) and the
// Cache-Control-derived interval in this package saturate at. A
// Retry-After longer than it is honored as given (see
// DecideUpdateInterval).
const MaxUpdateInterval = 4 * time.Hour

// EndpointState holds the conditional-request headers learned from the
// last successful (non-304) response for one URL+method+params tuple.
type EndpointState struct {
	LastModified string
	ETag         string
}

// ApplyTo sets If-Modified-Since/If-None-Match on req from the state.
// If-Modified-Since is only meaningful on GET/HEAD.
func (s EndpointState) ApplyTo(req *http.Request) {
	if s.LastModified != "" && (req.Method == http.MethodGet || req.Method == http.MethodHead) {
		req.Header.Set("If-Modified-Since", s.LastModified)
	}
	if s.ETag != "" {
		req.Header.Set("If-None-Match", s.ETag)
	}
}

// UpdateFrom records the conditional-request headers from a response.
// Per the source comment, 304 responses often lack cache headers, so this
// is only called for non-304 responses — callers should skip it on 304.
func (s *EndpointState) UpdateFrom(h http.Header) {
	s.LastModified = h.Get("Last-Modified")
	s.ETag = h.Get("Etag")
}

// Delay implements the monotonic-growth/saturation/reset-on-success
// back-off curve used between failed polls. The exact multiplier is not
// contractual (per the source design notes) — only three properties are:
// GetNext never returns a value smaller than its input while that input
// is at most Max (a larger input, e.g. one set from a long Retry-After,
// comes back as Max), it saturates at Max, and a successful poll resets to base immediately
// (callers do that by using base_update_interval directly rather than
// calling GetNext).
type Delay struct {
	// Multiplier scales the delay on every consecutive failure. Defaults
	// to 2 (doubling) when zero.
	Multiplier float64
	// Max caps the delay. Defaults to MaxUpdateInterval when zero.
	Max time.Duration
}

// GetNext returns the next delay given the current one has just failed.
func (d Delay) GetNext(current time.Duration) time.Duration {
	mult := d.Multiplier
	if mult <= 1 {
		mult = 2
	}
	max := d.Max
	if max <= 0 {
		max = MaxUpdateInterval
	}
	if current <= 0 {
		current = time.Second
	}
	next := time.Duration(float64(current) * mult)
	if next > max {
		next = max
	}
	return next
}

// RetrySettings holds the parameters of a same-poll retry loop (attempt
// count, delay, delay multiplier), distinct from the adaptive update
// interval. Nothing in this module reads it; the only same-poll retry is
// the transport-level one configured with WithRetry.
type RetrySettings struct {
	RetryTimes      int
	RetryDelay      time.Duration
	RetryMultiplier float64
}

// DefaultRetrySettings matches the source's dataclass defaults: one
// attempt, no retry.
func DefaultRetrySettings() RetrySettings {
	return RetrySettings{RetryTimes: 1, RetryDelay: time.Second, RetryMultiplier: 1.2}
}

// GetRetryAfter parses a Retry-After header, supporting both the
// delay-in-seconds and HTTP-date forms. Returns (0, false) when absent or
// unparseable.
func GetRetryAfter(h http.Header) (time.Duration, bool) {
	raw := h.Get("Retry-After")
	if raw == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(raw); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// GetCacheTTL extracts max-age from a Cache-Control header, if present.
func GetCacheTTL(h http.Header) (time.Duration, bool) {
	cc := h.Get("Cache-Control")
	if cc == "" {
		return 0, false
	}
	for _, directive := range strings.Split(cc, ",") {
		directive = strings.TrimSpace(directive)
		if strings.HasPrefix(directive, "max-age=") {
			secs, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age="))
			if err != nil {
				continue
			}
			return time.Duration(secs) * time.Second, true
		}
	}
	return 0, false
}

// DecideUpdateInterval implements the adaptive polling-interval rule:
//   - network error (no response): back off via Delay from current.
//   - Retry-After present: honor it, but never shorten the interval below
//     MaxUpdateInterval — a long Retry-After always wins.
//   - status >= 400: back off, never going below the current interval.
//   - success: derive from Cache-Control max-age or fall back to base,
//     clamped to [base, min(10*base, MaxUpdateInterval)].
func DecideUpdateInterval(status int, headers http.Header, current, base time.Duration, adjust bool) time.Duration {
	if headers == nil {
		return Delay{}.GetNext(current)
	}

	if retryAfter, ok := GetRetryAfter(headers); ok {
		if retryAfter > MaxUpdateInterval {
			return retryAfter
		}
		return MaxUpdateInterval
	}

	if status >= 400 {
		next := Delay{}.GetNext(current)
		if next < current {
			next = current
		}
		return next
	}

	if !adjust {
		return base
	}

	next := base
	if ttl, ok := GetCacheTTL(headers); ok {
		next = ttl
	}
	if cap := 10 * base; next > cap {
		next = cap
	}
	if next > MaxUpdateInterval {
		next = MaxUpdateInterval
	}
	if next < base {
		next = base
	}
	return next
}

// RateLimitBucket tracks a rate.Limiter per endpoint family (Discord,
// Twitter, ...), updated from whatever rate-limit headers that family
// exposes. Wait blocks the caller until the limiter admits the next
// request (or ctx is done); the bucket does not report the wait as a
// duration.
type RateLimitBucket struct {
	limiter *rate.Limiter
}

// NewRateLimitBucket builds a bucket allowing burst requests up to burst,
// refilling at ratePerSecond.
func NewRateLimitBucket(ratePerSecond float64, burst int) *RateLimitBucket {
	return &RateLimitBucket{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// UpdateFromDiscordHeaders adjusts the bucket from Discord-style
// X-RateLimit-Remaining/X-RateLimit-Reset-After headers.
func (b *RateLimitBucket) UpdateFromDiscordHeaders(h http.Header) {
	remaining, err := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if err != nil {
		return
	}
	resetAfter, err := strconv.ParseFloat(h.Get("X-RateLimit-Reset-After"), 64)
	if err != nil || remaining > 0 {
		return
	}
	b.limiter.SetLimit(rate.Every(time.Duration(resetAfter * float64(time.Second))))
}

// UpdateFromTwitterHeaders adjusts the bucket from Twitter-style
// x-rate-limit-remaining/x-rate-limit-reset (unix timestamp) headers.
func (b *RateLimitBucket) UpdateFromTwitterHeaders(h http.Header) {
	remaining, err := strconv.Atoi(h.Get("x-rate-limit-remaining"))
	if err != nil {
		return
	}
	resetAt, err := strconv.ParseInt(h.Get("x-rate-limit-reset"), 10, 64)
	if err != nil || remaining > 0 {
		return
	}
	until := time.Until(time.Unix(resetAt, 0))
	if until > 0 {
		b.limiter.SetLimit(rate.Every(until))
	}
}

// Wait blocks until the bucket admits the next request or ctx is done.
func (b *RateLimitBucket) Wait(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// LoadNetscapeCookieJar parses a cookies file in Netscape format (the
// format browsers and yt-dlp export) and returns a cookiejar.Jar
// pre-populated from it. An empty path returns (nil, nil): no cookie jar
// requested.
func LoadNetscapeCookieJar(path string) (*cookiejar.Jar, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("httpkit: open cookies file %s: %w", path, err)
	}
	defer f.Close()

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("httpkit: new cookie jar: %w", err)
	}

	byHost := make(map[string][]*http.Cookie)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			continue
		}
		domain := strings.TrimPrefix(fields[0], ".")
		cookiePath := fields[2]
		secure := fields[3] == "TRUE"
		var expires int64
		fmt.Sscanf(fields[4], "%d", &expires)
		name, value := fields[5], fields[6]

		cookie := &http.Cookie{Name: name, Value: value, Path: cookiePath, Secure: secure}
		if expires > 0 {
			cookie.Expires = time.Unix(expires, 0)
		}
		byHost[domain] = append(byHost[domain], cookie)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("httpkit: read cookies file %s: %w", path, err)
	}

	for host, cookies := range byHost {
		jar.SetCookies(&url.URL{Scheme: "https", Host: host}, cookies)
	}
	return jar, nil
}
