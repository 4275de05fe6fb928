package telemetry

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrLocationPermissionDenied is returned by Subscribe when the device has not
// granted location access.
var ErrLocationPermissionDenied = errors.New("location permission denied")

// GeoSampler delivers location samples to at most one subscriber. The returned
// function stops delivery; it is safe to call more than once.
type GeoSampler interface {
	Subscribe(onSample func(Sample)) (func(), error)
}

type subscription struct {
	fn     func(Sample)
	active atomic.Bool
}

// Feed is a GeoSampler backed by samples pushed from a device connection.
type Feed struct {
	mu         sync.Mutex
	deliver    sync.Mutex
	granted    bool
	subscriber *subscription
}

func NewFeed(granted bool) *Feed {
	return &Feed{granted: granted}
}

// SetPermission records the device's location permission. Revoking it does not
// end an existing subscription, it only blocks new ones.
func (f *Feed) SetPermission(granted bool) {
	f.mu.Lock()
	f.granted = granted
	f.mu.Unlock()
}

func (f *Feed) Granted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.granted
}

func (f *Feed) Subscribe(onSample func(Sample)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.granted {
		return nil, ErrLocationPermissionDenied
	}
	if f.subscriber != nil {
		f.subscriber.active.Store(false)
	}

	sub := &subscription{fn: onSample}
	sub.active.Store(true)
	f.subscriber = sub

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			f.mu.Lock()
			if f.subscriber == sub {
				f.subscriber = nil
			}
			f.mu.Unlock()
		})
	}, nil
}

// Publish hands a sample to the current subscriber and reports whether one
// received it. Deliveries are serialised so subscribers observe samples in
// publish order. The feed lock is not held while the callback runs.
func (f *Feed) Publish(s Sample) bool {
	f.deliver.Lock()
	defer f.deliver.Unlock()

	f.mu.Lock()
	sub := f.subscriber
	f.mu.Unlock()

	if sub == nil || !sub.active.Load() {
		return false
	}
	sub.fn(s)
	return true
}

// FeedRegistry keeps one Feed per user.
type FeedRegistry struct {
	mu             sync.Mutex
	feeds          map[string]*Feed
	defaultGranted bool
}

func NewFeedRegistry(defaultGranted bool) *FeedRegistry {
	return &FeedRegistry{
		feeds:          make(map[string]*Feed),
		defaultGranted: defaultGranted,
	}
}

// Feed returns the user's feed, creating it on first use.
func (r *FeedRegistry) Feed(userID string) *Feed {
	r.mu.Lock()
	defer r.mu.Unlock()

	feed, ok := r.feeds[userID]
	if !ok {
		feed = NewFeed(r.defaultGranted)
		r.feeds[userID] = feed
	}
	return feed
}

// SamplerFor returns the user's feed as a GeoSampler.
func (r *FeedRegistry) SamplerFor(userID string) GeoSampler {
	return r.Feed(userID)
}
