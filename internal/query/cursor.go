package query

import (
	"encoding/base64"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"prospect/internal/store"
)

// cursorPayload is the decoded form of the opaque page cursor. It pins
// the strategy that produced the page and the resume position(s):
// token/containment strategies track one position, the range scan one
// per scanned field.
type cursorPayload struct {
	Strategy Strategy             `msgpack:"s"`
	Term     string               `msgpack:"t,omitempty"`
	Token    *cursorPos           `msgpack:"p,omitempty"`
	Range    map[string]cursorPos `msgpack:"r,omitempty"`
}

// cursorPos is one resume position inside an ordered result set. Done
// marks a range-scanned field whose matches were fully consumed by
// earlier pages; later pages must not replay it.
type cursorPos struct {
	Order any    `msgpack:"o"`
	DocID string `msgpack:"d"`
	Done  bool   `msgpack:"x,omitempty"`
}

func (c cursorPos) cursor() *store.Cursor {
	return &store.Cursor{OrderValue: c.Order, DocID: c.DocID}
}

func fromCursor(c *store.Cursor) *cursorPos {
	if c == nil {
		return nil
	}
	return &cursorPos{Order: c.OrderValue, DocID: c.DocID}
}

// encodeCursor packs the payload with msgpack and wraps it in URL-safe
// base64. The result is opaque to callers.
func encodeCursor(p *cursorPayload) (string, error) {
	raw, err := msgpack.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// decodeCursor unpacks an opaque cursor. Corrupt input is a recoverable
// caller error, not an internal failure.
func decodeCursor(s string) (*cursorPayload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrBadCursor, err)
	}
	var p cursorPayload
	if err := msgpack.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrBadCursor, err)
	}
	if p.Strategy < StrategyTokens || p.Strategy > StrategyContains {
		return nil, fmt.Errorf("%w: unknown strategy %d", store.ErrBadCursor, p.Strategy)
	}
	return &p, nil
}
