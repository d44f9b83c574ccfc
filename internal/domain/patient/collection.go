package patient

import (
	"bytes"
	"encoding/json"
	"errors"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var errNotObject = errors.New("patient collection must be a JSON object")

// Collection maps patient ids to their stored values in store order. Values
// are kept as raw JSON so records that fail validation survive a rewrite
// untouched.
type Collection struct {
	entries *orderedmap.OrderedMap[string, json.RawMessage]
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{entries: orderedmap.New[string, json.RawMessage]()}
}

func (c *Collection) Len() int {
	return c.entries.Len()
}

func (c *Collection) Has(id string) bool {
	_, ok := c.entries.Get(id)
	return ok
}

// Get returns the stored value for id.
func (c *Collection) Get(id string) (json.RawMessage, bool) {
	return c.entries.Get(id)
}

// Put inserts or replaces the value for id. Replacing keeps the existing
// position.
func (c *Collection) Put(id string, raw json.RawMessage) {
	c.entries.Set(id, raw)
}

// Delete removes id and reports whether it was present.
func (c *Collection) Delete(id string) bool {
	_, ok := c.entries.Delete(id)
	return ok
}

// IDs returns the keys in store order.
func (c *Collection) IDs() []string {
	ids := make([]string, 0, c.entries.Len())
	for pair := c.entries.Oldest(); pair != nil; pair = pair.Next() {
		ids = append(ids, pair.Key)
	}
	return ids
}

func (c *Collection) MarshalJSON() ([]byte, error) {
	return c.entries.MarshalJSON()
}

func (c *Collection) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || trimmed[0] != '{' {
		return errNotObject
	}
	entries := orderedmap.New[string, json.RawMessage]()
	if err := entries.UnmarshalJSON(data); err != nil {
		return err
	}
	// An empty id can never be addressed through the API.
	entries.Delete("")
	c.entries = entries
	return nil
}
