package blare

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blarehq/blare/pkg/blare/resample"
)

func TestBufferCacheConvertsOncePerFormat(t *testing.T) {
	src := testTone()
	cache := newBufferCache(testLogger(), src)

	var wg sync.WaitGroup
	results := make([][]float32, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			samples, err := cache.get(44100, 2)
			assert.NoError(t, err)
			results[i] = samples
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), cache.conversions.Load())
	want := resample.OutputFrames(src.Frames(), 48000, 44100) * 2
	for _, samples := range results {
		require.Len(t, samples, want)
		assert.Same(t, &results[0][0], &samples[0], "converted buffer is shared")
	}

	mono, err := cache.get(44100, 1)
	require.NoError(t, err)
	assert.Len(t, mono, want/2)
	assert.Equal(t, int32(2), cache.conversions.Load())
}

func TestBufferCacheIdentity(t *testing.T) {
	src := testTone()
	cache := newBufferCache(testLogger(), src)

	samples, err := cache.get(48000, 2)
	require.NoError(t, err)
	assert.Equal(t, src.Samples, samples)
}

func TestBufferCacheRejectsSurround(t *testing.T) {
	cache := newBufferCache(testLogger(), testTone())

	_, err := cache.get(48000, 6)
	var convErr *resample.ConversionError
	assert.ErrorAs(t, err, &convErr)

	// failures are not cached
	_, err = cache.get(48000, 6)
	assert.Error(t, err)
	assert.Equal(t, int32(2), cache.conversions.Load())
}
