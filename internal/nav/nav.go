// Package nav models the browser navigation the flows drive. A request handler
// records the navigation in a Recorder and turns it into a response afterwards.
package nav

import (
	"net/http"
	"net/url"
	"sync"
)

// Navigator changes the browser location.
type Navigator interface {
	// Current returns the location the browser is on.
	Current() *url.URL
	// ReplaceQuery replaces the query of the current location without
	// adding a history entry.
	ReplaceQuery(query url.Values)
	// Push navigates to path.
	Push(path string)
}

// Recorder is a Navigator that records the resulting location.
type Recorder struct {
	mu       sync.Mutex
	current  *url.URL
	target   string
	replaced bool
}

var _ Navigator = (*Recorder)(nil)

// NewRecorder returns a recorder positioned on current. A nil current means
// the location is unknown.
func NewRecorder(current *url.URL) *Recorder {
	if current == nil {
		current = &url.URL{}
	}

	return &Recorder{current: current}
}

// FromRequest returns a recorder positioned on the page that issued r.
func FromRequest(r *http.Request) *Recorder {
	return NewRecorder(Referrer(r))
}

func (rec *Recorder) Current() *url.URL {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	u := *rec.current
	return &u
}

func (rec *Recorder) ReplaceQuery(query url.Values) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	u := *rec.current
	u.RawQuery = query.Encode()
	rec.current = &u
	rec.replaced = true
}

func (rec *Recorder) Push(path string) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.target = path
}

// Location returns the current location as a path with query.
func (rec *Recorder) Location() string {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	return rec.current.RequestURI()
}

// Replaced reports whether the query of the current location was replaced.
func (rec *Recorder) Replaced() bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	return rec.replaced
}

// Target returns the last pushed location.
func (rec *Recorder) Target() (string, bool) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	return rec.target, rec.target != ""
}

// Referrer returns the path and query of the same-origin page that issued r,
// or nil when the request carries no usable Referer.
func Referrer(r *http.Request) *url.URL {
	raw := r.Referer()
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}

	if u.IsAbs() && u.Host != r.Host {
		return nil
	}

	if u.Path == "" {
		u.Path = "/"
	}

	return &url.URL{Path: u.Path, RawQuery: u.RawQuery}
}
