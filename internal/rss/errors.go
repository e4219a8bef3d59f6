package rss

import (
	"fmt"
	"net/http"

	"github.com/bryan-buckman/aurora/internal/apperr"
)

// maxStatusLen bounds the error text stored as a feed's last status.
const maxStatusLen = 200

// FetchError describes why a feed could not be fetched. It matches its kind
// (one of the apperr sentinels) and its cause with errors.Is.
type FetchError struct {
	FeedID     string
	URL        string
	StatusCode int    // non-zero for HTTP errors
	Body       string // truncated response body for HTTP errors
	Kind       error
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		msg := fmt.Sprintf("HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
		if e.Body != "" {
			msg += " - " + e.Body
		}
		return msg
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Kind)
}

func (e *FetchError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newFetchError(kind error, feedID, url string, cause error) *FetchError {
	return &FetchError{FeedID: feedID, URL: url, Kind: kind, Err: cause}
}

func httpError(feedID, url string, status int, body string) *FetchError {
	return &FetchError{
		FeedID:     feedID,
		URL:        url,
		StatusCode: status,
		Body:       Truncate(body, maxStatusLen),
		Kind:       apperr.ErrUpstream,
	}
}

// Truncate shortens s to at most n bytes without splitting a UTF-8 rune.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }

// StatusText is the text recorded on a feed after a failed fetch.
func StatusText(err error) string {
	return Truncate(err.Error(), maxStatusLen)
}
