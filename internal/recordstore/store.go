package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get and Fragment.Get when nothing is stored
	// under the requested key.
	ErrNotFound = errors.New("record not found")
)

// Doc is a schemaless JSON document. Numbers decoded by the stores are
// json.Number so that values round-trip without float conversion.
type Doc map[string]any

// Record is a keyed document together with the timestamps the store keeps
// for it.
type Record struct {
	Collection string    `json:"collection"`
	Key        string    `json:"key"`
	Props      Doc       `json:"props"`
	Created    time.Time `json:"created"`
	Updated    time.Time `json:"updated"`
}

// Store is a key/document collection. Set merges the given props into the
// existing document (shallow, top-level keys) or creates it.
type Store interface {
	Get(ctx context.Context, key string) (Record, error)
	Set(ctx context.Context, key string, props Doc) error
	List(ctx context.Context) ([]Record, error)
	Filter(ctx context.Context, field string, value any) ([]Record, error)
	Delete(ctx context.Context, key string) error
	Fragment(key, name string) Fragment
	Ping(ctx context.Context) error
}

// Fragment is a named sub-document attached to a record key. Fragments are
// stored and fetched independently of the record itself; Set replaces the
// whole fragment.
type Fragment interface {
	Get(ctx context.Context) (Doc, error)
	Set(ctx context.Context, doc Doc) error
	Delete(ctx context.Context) error
}

// ToDoc converts any JSON-encodable value into a Doc.
func ToDoc(v any) (Doc, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return decodeDoc(raw)
}

// FromDoc decodes doc into the value pointed to by v.
func FromDoc(doc Doc, v any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func decodeDoc(raw []byte) (Doc, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	doc := Doc{}
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func cloneDoc(doc Doc) (Doc, error) {
	if doc == nil {
		return Doc{}, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return decodeDoc(raw)
}

// sameValue compares two values by their JSON encoding, which is how the
// remote backends compare them too.
func sameValue(a, b any) bool {
	ra, err := json.Marshal(a)
	if err != nil {
		return false
	}
	rb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ra, rb)
}
