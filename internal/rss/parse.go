package rss

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/atom"
	gorss "github.com/mmcdole/gofeed/rss"

	"github.com/bryan-buckman/aurora/internal/apperr"
)

// untitled is used for RSS items without a title.
const untitled = "Untitled"

// ParsedEntry is one item of a parsed document, before storage.
type ParsedEntry struct {
	Title       string
	URL         string
	Author      *string
	Content     *string
	Summary     *string
	PublishedAt *time.Time
}

// ParsedFeed is a parsed Atom or RSS document.
type ParsedFeed struct {
	Title   string
	Entries []ParsedEntry
}

var errUnsupportedFormat = errors.New("unsupported feed format")

// Parse detects the format of body and maps it to a ParsedFeed.
// Only Atom and RSS are accepted.
func Parse(body []byte) (*ParsedFeed, error) {
	switch ft := gofeed.DetectFeedType(bytes.NewReader(body)); ft {
	case gofeed.FeedTypeAtom:
		fp := &atom.Parser{}
		doc, err := fp.Parse(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("parse atom: %w: %w", apperr.ErrParse, err)
		}
		return fromAtom(doc), nil
	case gofeed.FeedTypeRSS:
		fp := &gorss.Parser{}
		doc, err := fp.Parse(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("parse rss: %w: %w", apperr.ErrParse, err)
		}
		return fromRSS(doc), nil
	default:
		return nil, fmt.Errorf("%w: %w", apperr.ErrParse, errUnsupportedFormat)
	}
}

func fromAtom(doc *atom.Feed) *ParsedFeed {
	out := &ParsedFeed{Title: strings.TrimSpace(doc.Title)}
	for _, e := range doc.Entries {
		if e == nil {
			continue
		}
		pe := ParsedEntry{Title: e.Title}
		if len(e.Links) > 0 && e.Links[0] != nil {
			pe.URL = strings.TrimSpace(e.Links[0].Href)
		}
		if len(e.Authors) > 0 && e.Authors[0] != nil {
			pe.Author = optional(e.Authors[0].Name)
		}
		pe.Summary = optional(e.Summary)
		if e.Content != nil && e.Content.Value != "" {
			pe.Content = optional(e.Content.Value)
		} else {
			pe.Content = pe.Summary
		}
		pe.PublishedAt = atomDate(e.PublishedParsed, e.Published)
		if pe.PublishedAt == nil {
			pe.PublishedAt = atomDate(e.UpdatedParsed, e.Updated)
		}
		out.Entries = append(out.Entries, pe)
	}
	return out
}

func atomDate(parsed *time.Time, raw string) *time.Time {
	if parsed != nil {
		t := parsed.UTC()
		return &t
	}
	return ParseDate(raw)
}

func fromRSS(doc *gorss.Feed) *ParsedFeed {
	out := &ParsedFeed{Title: strings.TrimSpace(doc.Title)}
	for _, item := range doc.Items {
		if item == nil {
			continue
		}
		pe := ParsedEntry{
			Title:   item.Title,
			URL:     strings.TrimSpace(item.Link),
			Author:  optional(item.Author),
			Summary: optional(item.Description),
		}
		if pe.Title == "" {
			pe.Title = untitled
		}
		if item.Content != "" {
			pe.Content = optional(item.Content)
		} else {
			pe.Content = pe.Summary
		}
		if item.PubDateParsed != nil {
			t := item.PubDateParsed.UTC()
			pe.PublishedAt = &t
		} else {
			pe.PublishedAt = ParseDate(item.PubDate)
		}
		out.Entries = append(out.Entries, pe)
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
