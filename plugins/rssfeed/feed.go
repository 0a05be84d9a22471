package rssfeed

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/nugget/waymark/internal/httpkit"
)

// feed is a parsed RSS or Atom feed with its entries normalized into a
// common structure.
type feed struct {
	Title   string
	Entries []feedEntry
}

// feedEntry is a single item in a feed.
type feedEntry struct {
	ID        string // <guid> (RSS) or <id> (Atom)
	Title     string
	Link      string
	Published time.Time
}

type rssXML struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	GUID    string `xml:"guid"`
	PubDate string `xml:"pubDate"`
}

type atomXML struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string     `xml:"id"`
	Title     string     `xml:"title"`
	Links     []atomLink `xml:"link"`
	Published string     `xml:"published"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

// parseFeed parses XML data as either an Atom or RSS feed, returning a
// normalized feed. Atom is tried first because YouTube uses it.
func parseFeed(data []byte) (*feed, error) {
	var atom atomXML
	if err := xml.Unmarshal(data, &atom); err == nil && atom.XMLName.Local == "feed" {
		return atomToFeed(&atom), nil
	}

	var rss rssXML
	if err := xml.Unmarshal(data, &rss); err == nil && rss.XMLName.Local == "rss" {
		return rssToFeed(&rss), nil
	}

	return nil, fmt.Errorf("unrecognized feed format (expected RSS 2.0 or Atom)")
}

// atomToFeed converts a parsed Atom feed to the normalized type. When
// multiple <link> elements exist, the one with rel="alternate" is
// preferred; entry IDs fall back to the link href when <id> is absent.
func atomToFeed(af *atomXML) *feed {
	f := &feed{Title: af.Title}
	for _, e := range af.Entries {
		pub, _ := time.Parse(time.RFC3339, e.Published)
		link := atomBestLink(e.Links)
		id := e.ID
		if id == "" {
			id = link
		}
		f.Entries = append(f.Entries, feedEntry{ID: id, Title: e.Title, Link: link, Published: pub})
	}
	return f
}

func atomBestLink(links []atomLink) string {
	if len(links) == 0 {
		return ""
	}
	for _, l := range links {
		if l.Rel == "alternate" || l.Rel == "" {
			return l.Href
		}
	}
	return links[0].Href
}

func rssToFeed(rf *rssXML) *feed {
	f := &feed{Title: rf.Channel.Title}
	for _, item := range rf.Channel.Items {
		pub, _ := time.Parse(time.RFC1123Z, item.PubDate)
		if pub.IsZero() {
			pub, _ = time.Parse(time.RFC1123, item.PubDate)
		}
		id := item.GUID
		if id == "" {
			id = item.Link
		}
		f.Entries = append(f.Entries, feedEntry{ID: id, Title: item.Title, Link: item.Link, Published: pub})
	}
	return f
}

// fetchFeed retrieves and parses a feed from feedURL, applying extraHeaders
// on top of the Accept header every feed request carries.
func fetchFeed(ctx context.Context, client *http.Client, feedURL string, extraHeaders map[string]string) (*feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml")
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read feed body: %w", err)
	}

	return parseFeed(body)
}

var (
	ytChannelIDRe  = regexp.MustCompile(`"channelId"\s*:\s*"(UC[a-zA-Z0-9_-]+)"`)
	ytCanonicalRe  = regexp.MustCompile(`<link\s+rel="canonical"\s+href="https://www\.youtube\.com/channel/(UC[a-zA-Z0-9_-]+)"`)
)

func isYouTubeHost(host string) bool {
	switch strings.ToLower(host) {
	case "youtube.com", "www.youtube.com", "m.youtube.com":
		return true
	}
	return false
}

// resolveYouTubeFeed converts a YouTube channel URL to its Atom feed URL.
// Accepts @handle or /channel/ URLs; returns the original URL unchanged if
// it's already a feed URL or not a YouTube channel.
func resolveYouTubeFeed(ctx context.Context, client *http.Client, rawURL string) (string, error) {
	if strings.Contains(rawURL, "/feeds/videos.xml") {
		return rawURL, nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || !isYouTubeHost(parsed.Hostname()) {
		return rawURL, nil
	}

	if strings.HasPrefix(parsed.Path, "/channel/UC") {
		parts := strings.SplitN(parsed.Path, "/channel/", 2)
		if len(parts) == 2 {
			channelID := strings.Split(parts[1], "/")[0]
			return "https://www.youtube.com/feeds/videos.xml?channel_id=" + channelID, nil
		}
	}

	if !strings.HasPrefix(parsed.Path, "/@") {
		return rawURL, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch channel page: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("channel page returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return "", fmt.Errorf("read channel page: %w", err)
	}
	html := string(body)

	if m := ytCanonicalRe.FindStringSubmatch(html); len(m) == 2 {
		return "https://www.youtube.com/feeds/videos.xml?channel_id=" + m[1], nil
	}
	if m := ytChannelIDRe.FindStringSubmatch(html); len(m) == 2 {
		return "https://www.youtube.com/feeds/videos.xml?channel_id=" + m[1], nil
	}

	return "", fmt.Errorf("could not extract channel ID from %s — try the direct RSS URL: https://www.youtube.com/feeds/videos.xml?channel_id=CHANNEL_ID", rawURL)
}
