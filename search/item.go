package search

import "time"

const (
	timestampLayout    = "2006-01-02T15:04:05Z07:00"
	lastModifiedLayout = "2006-01-02 15:04:05 UTC"

	// NotAvailable marks a missing or unparseable last-modified timestamp
	NotAvailable = "N/A"
)

// Repository is the repository block of a code-search item
type Repository struct {
	FullName  string `json:"full_name"`
	HTMLURL   string `json:"html_url,omitempty"`
	PushedAt  string `json:"pushed_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// TextMatch is one text-match fragment of an item
type TextMatch struct {
	ObjectURL  string `json:"object_url,omitempty"`
	ObjectType string `json:"object_type,omitempty"`
	Property   string `json:"property,omitempty"`
	Fragment   string `json:"fragment"`
}

// RawItem is one matched file as returned by the API
type RawItem struct {
	Name        string      `json:"name"`
	Path        string      `json:"path"`
	SHA         string      `json:"sha,omitempty"`
	HTMLURL     string      `json:"html_url"`
	Repository  Repository  `json:"repository"`
	TextMatches []TextMatch `json:"text_matches,omitempty"`
}

// Key identifies a file across sub-queries
type Key struct {
	Repository string
	Path       string
}

// Key returns the deduplication key of the item
func (it RawItem) Key() Key {
	return Key{Repository: it.Repository.FullName, Path: it.Path}
}

// Fragments returns the raw text-match fragments in upstream order
func (it RawItem) Fragments() []string {
	out := make([]string, 0, len(it.TextMatches))
	for _, tm := range it.TextMatches {
		out = append(out, tm.Fragment)
	}
	return out
}

// LastModified returns the most recent of the repository pushed, updated
// and created timestamps, or NotAvailable when none parses.
func (it RawItem) LastModified() string {
	var latest time.Time
	for _, v := range []string{it.Repository.PushedAt, it.Repository.UpdatedAt, it.Repository.CreatedAt} {
		if v == "" {
			continue
		}
		ts, err := time.Parse(timestampLayout, v)
		if err != nil {
			continue
		}
		if ts.After(latest) {
			latest = ts
		}
	}
	if latest.IsZero() {
		return NotAvailable
	}
	return latest.UTC().Format(lastModifiedLayout)
}

// Match is the outbound shape handed to result processing
type Match struct {
	Repository   string   `json:"repository"`
	FilePath     string   `json:"file_path"`
	HTMLURL      string   `json:"html_url"`
	LastModified string   `json:"last_modified"`
	Fragments    []string `json:"fragments"`
}

// Match converts the item to its outbound shape
func (it RawItem) Match() Match {
	return Match{
		Repository:   it.Repository.FullName,
		FilePath:     it.Path,
		HTMLURL:      it.HTMLURL,
		LastModified: it.LastModified(),
		Fragments:    it.Fragments(),
	}
}
