package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScratch_GetPut(t *testing.T) {
	s := NewScratch[int](0)
	assert.Equal(t, DefaultMaxRetain, s.maxRetain)

	buf := s.Get(16)
	assert.Len(t, buf, 16)
	for i := range buf {
		buf[i] = i + 1
	}
	s.Put(buf)

	// A pooled slice may or may not come back; either way it is zeroed.
	again := s.Get(8)
	assert.Len(t, again, 8)
	for _, v := range again {
		assert.Zero(t, v)
	}

	gets, allocs := s.Stats()
	assert.Equal(t, uint64(2), gets)
	assert.GreaterOrEqual(t, allocs, uint64(1))
}

func TestScratch_TooSmall(t *testing.T) {
	s := NewScratch[float64](0)
	s.Put(make([]float64, 4))

	buf := s.Get(64)
	assert.Len(t, buf, 64)
}

func TestScratch_MaxRetain(t *testing.T) {
	s := NewScratch[byte](8)
	big := s.Get(32)
	s.Put(big)
	s.Put(nil)

	buf := s.Get(4)
	assert.Len(t, buf, 4)
}

func TestScratch_ClearsReferences(t *testing.T) {
	s := NewScratch[*int](0)
	buf := s.Get(4)
	x := 7
	buf[2] = &x
	s.Put(buf)
	assert.Nil(t, buf[2], "Put clears the backing array")
}

func TestScratch_Concurrent(t *testing.T) {
	s := NewScratch[int](0)
	var wg sync.WaitGroup
	for g := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				buf := s.Get(64)
				for i := range buf {
					if !assert.Zero(t, buf[i]) {
						return
					}
					buf[i] = g
				}
				s.Put(buf)
			}
		}()
	}
	wg.Wait()

	gets, _ := s.Stats()
	assert.Equal(t, uint64(3200), gets)
}
