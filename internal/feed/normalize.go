package feed

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/timmy/jobflow/internal/domain"
)

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	companyPattern    = regexp.MustCompile(`(?i)at\s+(.+?)(?:\s*-|\s*\||$)`)
	salaryPattern     = regexp.MustCompile(`(?i)\$[\d,]+(?:\s*-\s*\$[\d,]+)?(?:\s*(?:per|/)\s*(?:year|annual|month|hour))?`)
)

// Normalize converts a feed item into a canonical job record using the
// strategy registered for the source. The result is not yet validated.
// Parameters:
//   - item: decoded feed entry.
//   - source: origin feed URL, used both for strategy selection and provenance.
// Returns:
//   - *domain.JobRecord: normalized record without store-assigned fields.
func Normalize(item Item, source string) *domain.JobRecord {
	switch {
	case strings.Contains(source, "jobicy.com"):
		return normalizeJobicy(item, source)
	case strings.Contains(source, "higheredjobs.com"):
		return normalizeHigherEd(item, source)
	default:
		return normalizeGeneric(item, source)
	}
}

func normalizeJobicy(item Item, source string) *domain.JobRecord {
	additional := domain.JSONMap{}
	if author := firstNonEmpty(item.Creator, item.Author); author != "" {
		additional["author"] = author
	}
	if len(item.Categories) > 0 {
		additional["tags"] = item.Categories
	}

	return &domain.JobRecord{
		ExternalID:     externalID(item),
		Title:          CleanText(item.Title),
		Description:    CleanText(firstNonEmpty(item.Description, item.Content)),
		Company:        extractCompany(item),
		Location:       firstNonEmpty(CleanText(item.Location), extractLocation(item)),
		Category:       firstNonEmpty(firstCategory(item), "General"),
		JobType:        extractJobType(item),
		Salary:         extractSalary(item.Description),
		URL:            item.Link,
		ApplyURL:       item.Link,
		PublishedDate:  item.Published,
		Source:         source,
		AdditionalData: additional,
	}
}

func normalizeHigherEd(item Item, source string) *domain.JobRecord {
	return &domain.JobRecord{
		ExternalID:     externalID(item),
		Title:          CleanText(item.Title),
		Description:    CleanText(item.Description),
		Company:        firstNonEmpty(extractLabeled(item.Description, "Institution:"), "Unknown"),
		Location:       firstNonEmpty(extractLabeled(item.Description, "Location:"), "Unknown"),
		Category:       firstNonEmpty(firstCategory(item), "Education"),
		JobType:        firstNonEmpty(extractLabeled(item.Description, "Type:"), "Full-time"),
		Salary:         extractLabeled(item.Description, "Salary:"),
		URL:            item.Link,
		ApplyURL:       item.Link,
		PublishedDate:  item.Published,
		Source:         source,
		AdditionalData: domain.JSONMap{},
	}
}

func normalizeGeneric(item Item, source string) *domain.JobRecord {
	id := externalID(item)
	if id == "" {
		id = synthesizeID(item)
	}

	return &domain.JobRecord{
		ExternalID:     id,
		Title:          CleanText(item.Title),
		Description:    CleanText(firstNonEmpty(item.Description, item.Content)),
		Company:        firstNonEmpty(CleanText(item.Company), CleanText(item.Author), "Unknown"),
		Location:       firstNonEmpty(CleanText(item.Location), "Remote"),
		Category:       firstNonEmpty(firstCategory(item), "General"),
		JobType:        "Full-time",
		URL:            item.Link,
		ApplyURL:       item.Link,
		PublishedDate:  item.Published,
		Source:         source,
		AdditionalData: domain.JSONMap{},
	}
}

// Validate checks that a normalized record carries every required field and a
// usable published date. Invalid records are skipped at fetch time and never
// reach the import pipeline.
// Parameters:
//   - job: normalized record.
// Returns:
//   - error: description of the first missing field, nil when valid.
func Validate(job *domain.JobRecord) error {
	required := []struct {
		name  string
		value string
	}{
		{"externalId", job.ExternalID},
		{"title", job.Title},
		{"description", job.Description},
		{"company", job.Company},
		{"url", job.URL},
		{"source", job.Source},
	}
	for _, f := range required {
		if f.value == "" {
			return fmt.Errorf("missing required field: %s", f.name)
		}
	}
	if job.PublishedDate.IsZero() {
		return fmt.Errorf("missing or invalid published date")
	}
	return nil
}

// CleanText strips HTML tags, decodes the common HTML entities, and collapses
// whitespace.
// Parameters:
//   - text: raw feed text.
// Returns:
//   - string: cleaned single-line text.
func CleanText(text string) string {
	if text == "" {
		return ""
	}

	text = htmlTagPattern.ReplaceAllString(text, "")

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	text = replacer.Replace(text)

	return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
}

// externalID prefers the feed GUID and falls back to the link.
func externalID(item Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	return item.Link
}

// synthesizeID builds a stable identifier for feeds that carry neither GUID
// nor link: the leading title characters plus the publish timestamp in
// milliseconds. Truncation counts runes so a multibyte title is never cut
// mid-character.
func synthesizeID(item Item) string {
	title := item.Title
	if runes := []rune(title); len(runes) > 20 {
		title = string(runes[:20])
	}
	ts := item.Published
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf("%s-%d", title, ts.UnixMilli())
}

func extractCompany(item Item) string {
	for _, candidate := range []string{item.Company, item.Author, item.Creator} {
		if candidate != "" {
			return CleanText(candidate)
		}
	}
	if m := companyPattern.FindStringSubmatch(item.Title); m != nil {
		return strings.TrimSpace(m[1])
	}
	return "Unknown"
}

func extractLocation(item Item) string {
	if item.Location != "" {
		return CleanText(item.Location)
	}
	if loc := extractLabeled(item.Description, "Location:"); loc != "" {
		return loc
	}
	return "Remote"
}

func extractJobType(item Item) string {
	combined := strings.ToLower(item.Title + " " + item.Description)
	switch {
	case strings.Contains(combined, "part-time") || strings.Contains(combined, "part time"):
		return "Part-time"
	case strings.Contains(combined, "contract"):
		return "Contract"
	case strings.Contains(combined, "freelance"):
		return "Freelance"
	case strings.Contains(combined, "intern"):
		return "Internship"
	default:
		return "Full-time"
	}
}

func extractSalary(description string) string {
	return salaryPattern.FindString(description)
}

// extractLabeled pulls the value following a "Label:" marker out of a
// description, stopping at a line break or tag start.
func extractLabeled(description, label string) string {
	if description == "" {
		return ""
	}
	pattern := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(label) + `\s*([^\n\r<]+)`)
	if m := pattern.FindStringSubmatch(description); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func firstCategory(item Item) string {
	if len(item.Categories) > 0 {
		return CleanText(item.Categories[0])
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
