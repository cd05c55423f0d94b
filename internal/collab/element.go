package collab

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidElement is returned when an element lacks a usable id or version.
var ErrInvalidElement = errors.New("invalid element")

// Element is a single versioned drawable on a board. Only the identity,
// version and tombstone flag are interpreted; the remaining shape payload is
// kept as the raw JSON it arrived in and re-emitted unchanged.
type Element struct {
	ID        string
	Version   int64
	IsDeleted bool

	raw json.RawMessage
}

type elementHeader struct {
	ID        *string      `json:"id"`
	Version   *json.Number `json:"version"`
	IsDeleted *bool        `json:"isDeleted"`
}

// UnmarshalJSON validates the element header and keeps the original bytes.
func (e *Element) UnmarshalJSON(data []byte) error {
	var h elementHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidElement, err)
	}
	if h.ID == nil || *h.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidElement)
	}
	if h.Version == nil {
		return fmt.Errorf("%w: element %s has no version", ErrInvalidElement, *h.ID)
	}
	version, err := h.Version.Int64()
	if err != nil {
		return fmt.Errorf("%w: element %s has non-integer version %q", ErrInvalidElement, *h.ID, h.Version.String())
	}

	e.ID = *h.ID
	e.Version = version
	e.IsDeleted = h.IsDeleted != nil && *h.IsDeleted
	e.raw = append(e.raw[:0:0], data...)
	return nil
}

// MarshalJSON re-emits the element exactly as it was received.
func (e Element) MarshalJSON() ([]byte, error) {
	if len(e.raw) == 0 {
		return json.Marshal(map[string]any{
			"id":        e.ID,
			"version":   e.Version,
			"isDeleted": e.IsDeleted,
		})
	}
	return e.raw, nil
}

// supersedes reports whether e should replace other when both arrive in the
// same incoming batch. Higher version wins; equal versions fall back to the
// raw bytes so the outcome never depends on batch order.
func (e Element) supersedes(other Element) bool {
	if e.Version != other.Version {
		return e.Version > other.Version
	}
	return bytes.Compare(e.raw, other.raw) < 0
}

// Merge converges two element sets under last-writer-wins by version.
//
// Existing entries seed the result (later duplicates overwrite earlier
// ones). An incoming element replaces an existing one only when its version
// is strictly greater. Tombstones are kept so that a deletion can never be
// undone by an older copy; use Live to drop them. The result is sorted by id.
// An empty incoming set returns a copy of existing untouched.
func Merge(existing, incoming []Element) []Element {
	if len(incoming) == 0 {
		out := make([]Element, len(existing))
		copy(out, existing)
		return out
	}

	byID := make(map[string]Element, len(existing)+len(incoming))
	for _, el := range existing {
		byID[el.ID] = el
	}

	candidates := make(map[string]Element, len(incoming))
	for _, el := range incoming {
		if cur, ok := candidates[el.ID]; ok && !el.supersedes(cur) {
			continue
		}
		candidates[el.ID] = el
	}

	for id, el := range candidates {
		if cur, ok := byID[id]; ok && el.Version <= cur.Version {
			continue
		}
		byID[id] = el
	}

	out := make([]Element, 0, len(byID))
	for _, el := range byID {
		out = append(out, el)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Live returns the elements that are not tombstoned.
func Live(elements []Element) []Element {
	out := make([]Element, 0, len(elements))
	for _, el := range elements {
		if !el.IsDeleted {
			out = append(out, el)
		}
	}
	return out
}

// DecodeElements parses a JSON array of elements. A missing or null array
// decodes to nil.
func DecodeElements(data []byte) ([]Element, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var elements []Element
	if err := json.Unmarshal(trimmed, &elements); err != nil {
		if errors.Is(err, ErrInvalidElement) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidElement, err)
	}
	return elements, nil
}

// EncodeElements renders elements as a JSON array, never null.
func EncodeElements(elements []Element) json.RawMessage {
	if len(elements) == 0 {
		return json.RawMessage("[]")
	}
	data, err := json.Marshal(elements)
	if err != nil {
		return json.RawMessage("[]")
	}
	return data
}
