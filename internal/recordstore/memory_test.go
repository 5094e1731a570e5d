package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetMergesProps(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("participants")

	require.NoError(t, s.Set(ctx, "a@b.com", Doc{"firstname": "Ada", "active": true}))
	first, err := s.Get(ctx, "a@b.com")
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "a@b.com", Doc{"active": false}))
	rec, err := s.Get(ctx, "a@b.com")
	require.NoError(t, err)

	assert.Equal(t, "participants", rec.Collection)
	assert.Equal(t, "a@b.com", rec.Key)
	assert.Equal(t, "Ada", rec.Props["firstname"])
	assert.Equal(t, false, rec.Props["active"])
	assert.Equal(t, first.Created, rec.Created)
	assert.False(t, rec.Updated.Before(first.Updated))
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore("participants")
	_, err := s.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("participants")
	props := Doc{"firstname": "Ada"}
	require.NoError(t, s.Set(ctx, "a@b.com", props))

	props["firstname"] = "Eve"
	rec, err := s.Get(ctx, "a@b.com")
	require.NoError(t, err)
	rec.Props["firstname"] = "Mallory"

	again, err := s.Get(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "Ada", again.Props["firstname"])
}

func TestMemoryStore_NumbersKeepTheirText(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("participants")
	require.NoError(t, s.Fragment("a@b.com", "work").Set(ctx, Doc{"salary": json.Number("123456789012345678")}))

	doc, err := s.Fragment("a@b.com", "work").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, json.Number("123456789012345678"), doc["salary"])
}

func TestMemoryStore_ListAndFilter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("participants")
	require.NoError(t, s.Set(ctx, "c@d.com", Doc{"active": true}))
	require.NoError(t, s.Set(ctx, "a@b.com", Doc{"active": false}))
	require.NoError(t, s.Set(ctx, "b@c.com", Doc{"active": true}))
	require.NoError(t, s.Set(ctx, "x@y.com", Doc{"firstname": "NoFlag"}))

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@b.com", "b@c.com", "c@d.com", "x@y.com"}, keys(all))

	active, err := s.Filter(ctx, "active", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"b@c.com", "c@d.com"}, keys(active))

	inactive, err := s.Filter(ctx, "active", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@b.com"}, keys(inactive))

	none, err := s.Filter(ctx, "active", "true")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_Fragments(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("participants")
	work := s.Fragment("a@b.com", "work")

	_, err := work.Get(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, work.Set(ctx, Doc{"companyname": "Acme", "currency": "USD"}))
	require.NoError(t, work.Set(ctx, Doc{"companyname": "Initech"}))
	doc, err := work.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, Doc{"companyname": "Initech"}, doc, "fragment set replaces the document")

	_, err = s.Fragment("a@b.com", "home").Get(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, work.Delete(ctx))
	_, err = work.Get(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_DeleteRemovesFragments(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("participants")
	require.NoError(t, s.Set(ctx, "a@b.com", Doc{"active": true}))
	require.NoError(t, s.Fragment("a@b.com", "home").Set(ctx, Doc{"city": "London"}))

	require.NoError(t, s.Delete(ctx, "a@b.com"))
	require.NoError(t, s.Delete(ctx, "a@b.com"), "deleting a missing key is not an error")

	_, err := s.Get(ctx, "a@b.com")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Fragment("a@b.com", "home").Get(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryStore("participants")

	assert.True(t, errors.Is(s.Set(ctx, "a@b.com", Doc{}), context.Canceled))
	assert.True(t, errors.Is(s.Ping(ctx), context.Canceled))
}

func keys(recs []Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Key)
	}
	return out
}
