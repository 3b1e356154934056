package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/leapstack-labs/datalens/internal/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDataset(values ...any) *dataset.Dataset {
	return dataset.MustNew(dataset.NewColumn("v", values))
}

func TestRegistry_StoreAndGet(t *testing.T) {
	r := New()
	ds := newDataset(int64(1), int64(2))
	meta := dataset.Metadata{Filename: "sales.csv", FileKind: dataset.FileCSV}

	r.Store("s1", ds, meta)

	assert.Equal(t, 1, r.Count(), "expected count 1")

	got, ok := r.Get("s1")
	require.True(t, ok, "expected to find dataset")
	assert.Same(t, ds, got, "expected same dataset instance")

	gotMeta, ok := r.GetMetadata("s1")
	require.True(t, ok)
	assert.Equal(t, meta, gotMeta)

	entry, ok := r.Lookup("s1")
	require.True(t, ok)
	assert.Same(t, ds, entry.Dataset)
	assert.Equal(t, "sales.csv", entry.Metadata.Filename)
}

func TestRegistry_Absent(t *testing.T) {
	r := New()

	ds, ok := r.Get("nope")
	assert.False(t, ok)
	assert.Nil(t, ds)

	_, ok = r.GetMetadata("nope")
	assert.False(t, ok)

	assert.False(t, r.Delete("nope"), "deleting unknown id reports false")
}

func TestRegistry_Replace(t *testing.T) {
	r := New()
	first := newDataset(int64(1))
	second := newDataset(int64(2))

	r.Store("s1", first, dataset.Metadata{Filename: "a.csv"})
	r.Store("s1", second, dataset.Metadata{Filename: "b.csv"})

	got, _ := r.Get("s1")
	meta, _ := r.GetMetadata("s1")
	assert.Same(t, second, got)
	assert.Equal(t, "b.csv", meta.Filename)
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_Delete(t *testing.T) {
	r := New()
	r.Store("s1", newDataset(int64(1)), dataset.Metadata{})
	r.Store("s2", newDataset(int64(2)), dataset.Metadata{})

	assert.True(t, r.Delete("s1"))
	assert.False(t, r.Delete("s1"), "second delete reports false")

	_, ok := r.Get("s1")
	assert.False(t, ok)
	_, ok = r.GetMetadata("s1")
	assert.False(t, ok, "metadata removed with dataset")

	assert.Equal(t, []string{"s2"}, r.IDs())
}

func TestRegistry_Concurrent(t *testing.T) {
	r := New()
	var wg sync.WaitGroup

	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i)
			r.Store(id, newDataset(int64(i)), dataset.Metadata{Filename: id})

			entry, ok := r.Lookup(id)
			if assert.True(t, ok) {
				assert.Equal(t, id, entry.Metadata.Filename)
				assert.NotNil(t, entry.Dataset)
			}
			if i%2 == 0 {
				r.Delete(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, r.Count())
	for _, id := range r.IDs() {
		ds, dsOK := r.Get(id)
		_, metaOK := r.GetMetadata(id)
		assert.True(t, dsOK && metaOK, "both halves present for %s", id)
		assert.NotNil(t, ds)
	}
}
