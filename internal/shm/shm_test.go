package shm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type sample struct {
	A int64
	B int32
}

func TestLocalAllocateFindRoundTrip(t *testing.T) {
	r, err := NewLocal("test-region", 4096)
	require.NoError(t, err)

	p, err := AllocateT[sample](r, "widget", 3)
	require.NoError(t, err)
	p.A = 42
	p.B = 7

	found, count, err := FindT[sample](r, "widget")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, int64(42), found.A)
	assert.Equal(t, int32(7), found.B)
}

func TestLocalFindMissingReturnsNotFound(t *testing.T) {
	r, err := NewLocal("test-region-2", 4096)
	require.NoError(t, err)

	_, _, err = FindT[sample](r, "nope")
	assert.Error(t, err)
}

func TestDeallocateRemovesName(t *testing.T) {
	r, err := NewLocal("test-region-3", 4096)
	require.NoError(t, err)

	_, err = AllocateT[sample](r, "thing", 1)
	require.NoError(t, err)

	require.NoError(t, r.Deallocate("thing"))

	_, _, err = FindT[sample](r, "thing")
	assert.Error(t, err)
}

func TestAllocateExhaustsRegion(t *testing.T) {
	r, err := NewLocal("tiny-region", 64)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		if _, err := AllocateT[sample](r, "", 1); err != nil {
			assert.ErrorContains(t, err, "memory")
			return
		}
	}
	t.Fatal("expected allocation to eventually fail")
}

// Named allocations round-trip through Find regardless of how many
// distinct names precede them, exercising the directory scan.
func TestNamedAllocationsRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r, err := NewLocal("prop-region", 1<<16)
		require.NoError(t, err)

		names := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{1,10}`), 1, 20, rapid.ID[string]).Draw(t, "names")

		want := map[string]int64{}
		for i, name := range names {
			p, err := AllocateT[sample](r, name, 1)
			require.NoError(t, err)
			p.A = int64(i)
			want[name] = int64(i)
		}

		for name, val := range want {
			got, _, err := FindT[sample](r, name)
			require.NoError(t, err)
			assert.Equal(t, val, got.A)
		}
	})
}
