package blare

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/blarehq/blare/pkg/blare/resample"
	"github.com/blarehq/blare/pkg/blare/source"
)

// bufferCache hands out the source converted to a device format. Each
// distinct format is converted once, even when several devices ask for it
// at the same time, and the result is shared read-only.
type bufferCache struct {
	logger *zap.SugaredLogger
	source *source.Buffer

	group       singleflight.Group
	lock        sync.Mutex
	buffers     map[string][]float32
	conversions atomic.Int32
}

func newBufferCache(logger *zap.SugaredLogger, src *source.Buffer) *bufferCache {
	return &bufferCache{
		logger:  logger.Named("cache"),
		source:  src,
		buffers: map[string][]float32{},
	}
}

func (c *bufferCache) get(rate uint32, channels int) ([]float32, error) {
	key := fmt.Sprintf("%d/%d", rate, channels)

	c.lock.Lock()
	samples, ok := c.buffers[key]
	c.lock.Unlock()
	if ok {
		return samples, nil
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		// a previous flight may have finished since the lookup above
		c.lock.Lock()
		samples, ok := c.buffers[key]
		c.lock.Unlock()
		if ok {
			return samples, nil
		}

		c.conversions.Add(1)
		c.logger.Debugw("Converting source",
			"from", c.source.Spec, "rate", rate, "channels", channels)

		converted, err := resample.Convert(c.source.Spec.SampleRate, c.source.Spec.Channels,
			rate, channels, c.source.Samples)
		if err != nil {
			c.logger.Warnw("Failed to convert source", "key", key, "error", err)
			return nil, err
		}

		c.lock.Lock()
		c.buffers[key] = converted
		c.lock.Unlock()
		return converted, nil
	})
	if err != nil {
		return nil, fmt.Errorf("convert source to %s: %w", key, err)
	}

	if shared {
		c.logger.Debugw("Shared in-flight conversion", "key", key)
	}
	return v.([]float32), nil
}
