// Package address converts between a browser address and the stack of open
// notes it encodes in a repeated query parameter.
package address

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/starford/zettelstack/internal/apperr"
	"github.com/starford/zettelstack/internal/models"
)

// DefaultParam is the query key holding the open notes.
const DefaultParam = "note"

// Codec encodes and decodes NavigationState in an address query.
//
// The address path carries the root note; the repeated parameter lists the
// notes opened beyond it, outermost first.
type Codec struct {
	param string
}

// NewCodec returns a Codec using param as the query key. An empty param
// falls back to DefaultParam.
func NewCodec(param string) *Codec {
	if param == "" {
		param = DefaultParam
	}
	return &Codec{param: param}
}

// Param returns the query key used by the codec.
func (c *Codec) Param() string {
	return c.param
}

// Encode returns a copy of addr whose parameter holds state truncated to
// level-1 identifiers. A level outside 1..len(state)+1 writes the whole
// state. Path, fragment and unrelated query parameters are kept.
func (c *Codec) Encode(addr *url.URL, state models.NavigationState, level int) *url.URL {
	out := &url.URL{}
	if addr != nil {
		clone := *addr
		out = &clone
	}

	n := len(state)
	if level >= 1 && level-1 < n {
		n = level - 1
	}

	q := out.Query()
	q.Del(c.param)
	for _, id := range state[:n] {
		q.Add(c.param, string(id))
	}
	out.RawQuery = q.Encode()
	return out
}

// Decode reads the parameter as an ordered list of identifiers. An absent
// parameter decodes to an empty state. Values that cannot name a note make
// the whole address malformed.
func (c *Codec) Decode(addr *url.URL) (models.NavigationState, error) {
	if addr == nil || addr.RawQuery == "" {
		return models.NavigationState{}, nil
	}

	q, err := url.ParseQuery(addr.RawQuery)
	if err != nil && strings.Contains(addr.RawQuery, c.param+"=") {
		return nil, fmt.Errorf("address: parse query: %w: %v", apperr.ErrMalformedAddress, err)
	}

	raw, ok := q[c.param]
	if !ok {
		return models.NavigationState{}, nil
	}

	state := make(models.NavigationState, 0, len(raw))
	for _, v := range raw {
		id, err := parseID(v)
		if err != nil {
			return nil, err
		}
		if state.Contains(id) {
			return nil, fmt.Errorf("address: duplicate note %q: %w", id, apperr.ErrMalformedAddress)
		}
		state = append(state, id)
	}
	return state, nil
}

// DecodeString parses raw as a URL and decodes it.
func (c *Codec) DecodeString(raw string) (models.NavigationState, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("address: parse %q: %w", raw, apperr.ErrMalformedAddress)
	}
	return c.Decode(u)
}

func parseID(v string) (models.NoteID, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("address: empty note value: %w", apperr.ErrMalformedAddress)
	}
	if strings.Contains(v, "://") || strings.HasPrefix(v, "//") {
		return "", fmt.Errorf("address: absolute note value %q: %w", v, apperr.ErrMalformedAddress)
	}
	for _, seg := range strings.Split(v, "/") {
		if seg == ".." {
			return "", fmt.Errorf("address: note value escapes root %q: %w", v, apperr.ErrMalformedAddress)
		}
	}
	id := models.NormalizeID(v)
	if id == "" || id == "/" {
		return "", fmt.Errorf("address: note value %q: %w", v, apperr.ErrMalformedAddress)
	}
	return id, nil
}
