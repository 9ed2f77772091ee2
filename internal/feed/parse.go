package feed

import (
	"encoding/xml"
	"errors"
	"strings"
	"time"
)

// ErrUnrecognizedFormat is returned when a document is neither RSS 2.0 nor Atom.
var ErrUnrecognizedFormat = errors.New("unrecognized feed format")

// Item is one feed entry in format-neutral form. Fields hold raw feed text;
// normalization and entity decoding happen later in the parser strategies.
type Item struct {
	Title       string
	Description string
	Content     string // content:encoded, when present
	Link        string
	GUID        string
	Author      string
	Creator     string // dc:creator
	Categories  []string
	Location    string
	Company     string

	Published time.Time
}

type rssDocument struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

// rssItem matches on local element names only, so namespaced extensions like
// content:encoded and dc:creator bind regardless of the prefix a feed uses.
type rssItem struct {
	Title       string   `xml:"title"`
	Description string   `xml:"description"`
	Content     string   `xml:"encoded"`
	Link        string   `xml:"link"`
	GUID        string   `xml:"guid"`
	Author      string   `xml:"author"`
	Creator     string   `xml:"creator"`
	Categories  []string `xml:"category"`
	Location    string   `xml:"location"`
	Company     string   `xml:"company"`
	PubDate     string   `xml:"pubDate"`
}

type atomDocument struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title   string `xml:"title"`
	Summary string `xml:"summary"`
	Content string `xml:"content"`
	ID      string `xml:"id"`
	Links   []struct {
		Rel  string `xml:"rel,attr"`
		Href string `xml:"href,attr"`
	} `xml:"link"`
	Author struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Categories []struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
	Published string `xml:"published"`
	Updated   string `xml:"updated"`
}

// Parse decodes a feed document into format-neutral items. RSS 2.0 is tried
// first, then Atom.
// Parameters:
//   - data: raw feed document.
// Returns:
//   - []Item: decoded entries, possibly empty for a valid but itemless feed.
//   - error: ErrUnrecognizedFormat when the document decodes as neither format.
func Parse(data []byte) ([]Item, error) {
	var rss rssDocument
	if err := xml.Unmarshal(data, &rss); err == nil && rss.XMLName.Local == "rss" {
		items := make([]Item, 0, len(rss.Channel.Items))
		for _, it := range rss.Channel.Items {
			items = append(items, it.toItem())
		}
		return items, nil
	}

	var atom atomDocument
	if err := xml.Unmarshal(data, &atom); err == nil && atom.XMLName.Local == "feed" {
		items := make([]Item, 0, len(atom.Entries))
		for _, e := range atom.Entries {
			items = append(items, e.toItem())
		}
		return items, nil
	}

	return nil, ErrUnrecognizedFormat
}

func (it rssItem) toItem() Item {
	return Item{
		Title:       it.Title,
		Description: it.Description,
		Content:     it.Content,
		Link:        strings.TrimSpace(it.Link),
		GUID:        strings.TrimSpace(it.GUID),
		Author:      it.Author,
		Creator:     it.Creator,
		Categories:  it.Categories,
		Location:    it.Location,
		Company:     it.Company,
		Published:   parseFeedTime(it.PubDate),
	}
}

func (e atomEntry) toItem() Item {
	link := ""
	for _, l := range e.Links {
		if l.Rel == "" || l.Rel == "alternate" {
			link = l.Href
			break
		}
	}
	if link == "" && len(e.Links) > 0 {
		link = e.Links[0].Href
	}

	categories := make([]string, 0, len(e.Categories))
	for _, c := range e.Categories {
		if c.Term != "" {
			categories = append(categories, c.Term)
		}
	}

	published := e.Published
	if published == "" {
		published = e.Updated
	}

	return Item{
		Title:       e.Title,
		Description: e.Summary,
		Content:     e.Content,
		Link:        strings.TrimSpace(link),
		GUID:        strings.TrimSpace(e.ID),
		Author:      e.Author.Name,
		Categories:  categories,
		Published:   parseFeedTime(published),
	}
}

// feedTimeFormats lists timestamp layouts seen across real feeds, most common
// first.
var feedTimeFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseFeedTime parses a feed timestamp, returning the zero time when no
// layout matches. Validation downstream rejects records without a usable date.
func parseFeedTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range feedTimeFormats {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
