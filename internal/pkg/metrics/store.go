// Package metrics buckets device telemetry into fixed-width time windows.
//
// Writes are O(1) amortised: a reading lands in a map keyed by bucket start,
// then device, then kind. Global ordering is only recovered when a reader asks
// for it, by sorting bucket keys on demand.
package metrics

import (
	"fmt"
	"iter"
	"maps"
	"math"
	"slices"
	"sync"
	"sync/atomic"
)

// DefaultBucketDuration is the window width used when none is configured.
const DefaultBucketDuration int64 = 5000

// Store maps bucket start to device mRID to that device's readings. A device
// missing from a bucket reported nothing in that window.
type Store struct {
	mux      *sync.RWMutex
	duration int64
	buckets  map[int64]map[string]*MeterReadings
	ordered  []int64
	dirty    bool

	stored atomic.Uint64
}

// NewStore returns an empty store with buckets bucketDuration wide.
func NewStore(bucketDuration int64) (*Store, error) {
	if bucketDuration <= 0 {
		return nil, fmt.Errorf("bucket duration must be positive, got %d", bucketDuration)
	}
	return &Store{
		mux:      &sync.RWMutex{},
		duration: bucketDuration,
		buckets:  make(map[int64]map[string]*MeterReadings),
	}, nil
}

// NewDefaultStore returns an empty store using DefaultBucketDuration.
func NewDefaultStore() *Store {
	s, _ := NewStore(DefaultBucketDuration)
	return s
}

// BucketDuration returns the window width.
func (s *Store) BucketDuration() int64 {
	return s.duration
}

// Bucket returns the start of the window containing timestamp. Windows start
// at multiples of the bucket duration, including for negative timestamps.
// Timestamps whose window would start below math.MinInt64 fall into the lowest
// representable window.
func (s *Store) Bucket(timestamp int64) int64 {
	rem := timestamp % s.duration
	if rem < 0 {
		rem += s.duration
	}
	if timestamp < math.MinInt64+rem {
		return math.MinInt64 - math.MinInt64%s.duration
	}
	return timestamp - rem
}

// StoreReading files r under its bucket and device.
func (s *Store) StoreReading(mrid, name, psrID string, r Reading) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.storeLocked(mrid, name, psrID, r)
}

// StoreReadings files a batch reported by one device.
func (s *Store) StoreReadings(mrid, name, psrID string, rs []Reading) {
	s.mux.Lock()
	defer s.mux.Unlock()
	for _, r := range rs {
		s.storeLocked(mrid, name, psrID, r)
	}
}

func (s *Store) storeLocked(mrid, name, psrID string, r Reading) {
	start := s.Bucket(r.Timestamp)
	bucket, ok := s.buckets[start]
	if !ok {
		bucket = make(map[string]*MeterReadings)
		s.buckets[start] = bucket
		s.dirty = true
	}
	meter, ok := bucket[mrid]
	if !ok {
		meter = newMeterReadings(mrid, name, psrID, start)
		bucket[mrid] = meter
	}
	meter.add(r)
	s.stored.Add(1)
}

// Buckets returns the populated bucket starts in ascending order.
func (s *Store) Buckets() []int64 {
	return slices.Clone(s.sortedBuckets())
}

func (s *Store) sortedBuckets() []int64 {
	s.mux.RLock()
	if !s.dirty {
		ordered := s.ordered
		s.mux.RUnlock()
		return ordered
	}
	s.mux.RUnlock()

	s.mux.Lock()
	defer s.mux.Unlock()
	if s.dirty {
		s.ordered = slices.Sorted(maps.Keys(s.buckets))
		s.dirty = false
	}
	return s.ordered
}

// Get returns a copy of the readings mrid reported in the bucket starting at
// start.
func (s *Store) Get(start int64, mrid string) (*MeterReadings, bool) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	meter, ok := s.buckets[start][mrid]
	if !ok {
		return nil, false
	}
	return meter.clone(), true
}

// Devices returns the device mRIDs that reported in the bucket starting at
// start, sorted.
func (s *Store) Devices(start int64) []string {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return slices.Sorted(maps.Keys(s.buckets[start]))
}

// Meters returns copies of every device aggregate in no particular order.
// Prefer Ascending, which visits one bucket at a time.
func (s *Store) Meters() []*MeterReadings {
	s.mux.RLock()
	defer s.mux.RUnlock()
	var out []*MeterReadings
	for _, bucket := range s.buckets {
		for _, meter := range bucket {
			out = append(out, meter.clone())
		}
	}
	return out
}

// Ascending returns a sequence of device aggregates ordered by bucket, then by
// device mRID. Each call returns a fresh sequence, and each sequence may be
// ranged over more than once.
func (s *Store) Ascending() iter.Seq[*MeterReadings] {
	return s.ascending()
}

func (s *Store) ascending(only ...ReadingKind) iter.Seq[*MeterReadings] {
	return func(yield func(*MeterReadings) bool) {
		for _, start := range s.Buckets() {
			for _, m := range s.bucketSnapshot(start, only) {
				if !yield(m) {
					return
				}
			}
		}
	}
}

func (s *Store) bucketSnapshot(start int64, only []ReadingKind) []*MeterReadings {
	s.mux.RLock()
	defer s.mux.RUnlock()
	bucket := s.buckets[start]
	out := make([]*MeterReadings, 0, len(bucket))
	for _, mrid := range slices.Sorted(maps.Keys(bucket)) {
		m := bucket[mrid].clone(only...)
		if len(only) > 0 && m.Len() == 0 {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Readings returns one aggregate per bucket and device holding only readings
// of kind, in ascending order. Devices with no such reading in a bucket are
// left out.
func (s *Store) Readings(kind ReadingKind) []*MeterReadings {
	return slices.Collect(s.ascending(kind))
}

// Len returns the number of readings stored since creation.
func (s *Store) Len() uint64 {
	return s.stored.Load()
}

// NumBuckets returns the number of populated buckets.
func (s *Store) NumBuckets() int {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return len(s.buckets)
}
