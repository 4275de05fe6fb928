package telemetry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeed_PermissionDenied(t *testing.T) {
	feed := NewFeed(false)

	stop, err := feed.Subscribe(func(Sample) {})
	assert.ErrorIs(t, err, ErrLocationPermissionDenied)
	assert.Nil(t, stop)

	feed.SetPermission(true)
	stop, err = feed.Subscribe(func(Sample) {})
	require.NoError(t, err)
	stop()
}

func TestFeed_DeliversInOrderUntilUnsubscribed(t *testing.T) {
	feed := NewFeed(true)

	var got []float64
	stop, err := feed.Subscribe(func(s Sample) { got = append(got, s.Latitude) })
	require.NoError(t, err)

	assert.True(t, feed.Publish(Sample{Latitude: 1}))
	assert.True(t, feed.Publish(Sample{Latitude: 2}))

	stop()
	stop()
	assert.False(t, feed.Publish(Sample{Latitude: 3}))
	assert.Equal(t, []float64{1, 2}, got)
}

func TestFeed_NewSubscriptionReplacesOld(t *testing.T) {
	feed := NewFeed(true)

	var first, second int
	stopFirst, err := feed.Subscribe(func(Sample) { first++ })
	require.NoError(t, err)
	_, err = feed.Subscribe(func(Sample) { second++ })
	require.NoError(t, err)

	feed.Publish(Sample{})
	// a stale handle must not tear down the newer subscription
	stopFirst()
	feed.Publish(Sample{})

	assert.Equal(t, 0, first)
	assert.Equal(t, 2, second)
}

func TestFeed_UnsubscribeFromCallback(t *testing.T) {
	feed := NewFeed(true)

	var stop func()
	calls := 0
	stop, err := feed.Subscribe(func(Sample) {
		calls++
		stop()
	})
	require.NoError(t, err)

	feed.Publish(Sample{})
	feed.Publish(Sample{})
	assert.Equal(t, 1, calls)
}

func TestFeed_ConcurrentPublishSerialised(t *testing.T) {
	feed := NewFeed(true)

	var mu sync.Mutex
	inFlight, maxInFlight, total := 0, 0, 0
	_, err := feed.Subscribe(func(Sample) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		mu.Lock()
		inFlight--
		total++
		mu.Unlock()
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			feed.Publish(Sample{})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInFlight)
	assert.Equal(t, 20, total)
}

func TestFeedRegistry(t *testing.T) {
	reg := NewFeedRegistry(false)

	a := reg.Feed("user-a")
	assert.Same(t, a, reg.Feed("user-a"))
	assert.NotSame(t, a, reg.Feed("user-b"))
	assert.False(t, a.Granted())

	a.SetPermission(true)
	_, err := reg.SamplerFor("user-a").Subscribe(func(Sample) {})
	assert.NoError(t, err)
	_, err = reg.SamplerFor("user-b").Subscribe(func(Sample) {})
	assert.ErrorIs(t, err, ErrLocationPermissionDenied)
}
