package llm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool(t *testing.T) {
	t.Parallel()

	t.Run("empty set is a configuration error", func(t *testing.T) {
		t.Parallel()
		_, err := NewPool(nil)
		require.ErrorIs(t, err, ErrNoCredentials)

		_, err = NewPool([]string{"", "  "})
		require.ErrorIs(t, err, ErrNoCredentials)
	})

	t.Run("cursor starts on first usable key", func(t *testing.T) {
		t.Parallel()
		p, err := NewPool([]string{" ", " k2 ", "k3"})
		require.NoError(t, err)

		key, idx := p.Current()
		assert.Equal(t, "k2", key)
		assert.Equal(t, 1, idx)
		assert.Equal(t, 2, p.Size())
	})
}

func TestParseKeys(t *testing.T) {
	t.Parallel()
	assert.Nil(t, ParseKeys(""))
	assert.Equal(t, []string{"a", " b", ""}, ParseKeys("a, b,"))
}

func TestPoolRotate(t *testing.T) {
	t.Parallel()

	t.Run("skips blank entries and wraps", func(t *testing.T) {
		t.Parallel()
		p, err := NewPool([]string{"k1", "", "k3"})
		require.NoError(t, err)

		key, idx, err := p.Rotate(0)
		require.NoError(t, err)
		assert.Equal(t, "k3", key)
		assert.Equal(t, 2, idx)

		_, idx, err = p.Rotate(2)
		require.ErrorIs(t, err, ErrPoolExhausted)
		assert.Equal(t, 0, idx)
	})

	t.Run("full lap reports exhaustion for every pool size", func(t *testing.T) {
		t.Parallel()
		for n := 1; n <= 5; n++ {
			keys := make([]string, n)
			for i := range keys {
				keys[i] = string(rune('a' + i))
			}
			p, err := NewPool(keys)
			require.NoError(t, err)

			for i := 0; i < n-1; i++ {
				_, idx := p.Current()
				_, _, err := p.Rotate(idx)
				require.NoError(t, err, "pool size %d rotation %d", n, i)
			}
			_, idx := p.Current()
			_, _, err = p.Rotate(idx)
			require.ErrorIs(t, err, ErrPoolExhausted, "pool size %d", n)
		}
	})

	t.Run("clearing starts a new lap", func(t *testing.T) {
		t.Parallel()
		p, err := NewPool([]string{"k1", "k2"})
		require.NoError(t, err)

		_, _, err = p.Rotate(0)
		require.NoError(t, err)
		p.ClearExhaustion()

		// The lap now starts at k2, so moving back to k1 is not a full lap.
		key, _, err := p.Rotate(1)
		require.NoError(t, err)
		assert.Equal(t, "k1", key)
	})

	t.Run("stale rotation leaves cursor alone", func(t *testing.T) {
		t.Parallel()
		p, err := NewPool([]string{"k1", "k2", "k3"})
		require.NoError(t, err)

		_, _, err = p.Rotate(0)
		require.NoError(t, err)

		key, idx, err := p.Rotate(0)
		require.NoError(t, err)
		assert.Equal(t, "k2", key)
		assert.Equal(t, 1, idx)
	})
}

func TestPoolConcurrentRotationSkipsNothing(t *testing.T) {
	t.Parallel()

	p, err := NewPool([]string{"k1", "k2", "k3", "k4"})
	require.NoError(t, err)

	// Every goroutine saw key #0 fail; only one advance must happen.
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = p.Rotate(0)
		}()
	}
	wg.Wait()

	key, idx := p.Current()
	assert.Equal(t, "k2", key)
	assert.Equal(t, 1, idx)
}
