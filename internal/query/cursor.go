package query

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mr-tron/base58"

	"github.com/p2panda/aquadoggo/internal/types"
)

// cursorCache memoizes ParseCursor's base58-decode-plus-split work, per
// DESIGN.md's domain-stack wiring for hashicorp/golang-lru/v2 — a hot
// pagination loop over the same GraphQL connection field re-parses the
// same "after" token on every intermediate request path (validation,
// then planning), and cursor tokens are immutable once minted so a
// cache entry never goes stale. Grounded on drpcorg-chotki/
// index_manager.go's lru.New(size)-backed decode caches.
var cursorCache, _ = lru.New[string, *Cursor](4096)

// Cursor is a page boundary: the ordering key of the last row returned
// plus its document_view_id as a tie-break, per spec §4.8 ("pagination
// cursors encode the last row's ordering-key + document_view_id, so
// they are strictly monotone"). The token is base58 of the ordering key,
// a NUL byte, and the view id string; unlike store.fieldCursor, which
// base58-encodes an xxhash digest, it is decodable back into its parts.
type Cursor struct {
	OrderingKey string
	ViewID      types.ViewID
}

// String renders the cursor as an opaque base58 token.
func (c Cursor) String() string {
	raw := c.OrderingKey + "\x00" + c.ViewID.String()
	return base58.Encode([]byte(raw))
}

// ParseCursor decodes a cursor token produced by Cursor.String.
func ParseCursor(s string) (*Cursor, error) {
	if c, ok := cursorCache.Get(s); ok {
		return c, nil
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), "\x00", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid cursor: malformed payload")
	}
	view, err := types.ParseViewID(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	c := &Cursor{OrderingKey: parts[0], ViewID: view}
	cursorCache.Add(s, c)
	return c, nil
}
