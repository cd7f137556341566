package app

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedLock_SerializesSameKey(t *testing.T) {
	k := NewKeyedLock()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("1|BTC")
			defer unlock()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, k.size())
}

func TestKeyedLock_DifferentKeysDoNotBlock(t *testing.T) {
	k := NewKeyedLock()
	unlockA := k.Lock("1|BTC")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := k.Lock("1|ETH")
		unlock()
		close(done)
	}()
	<-done
	assert.Equal(t, 1, k.size())
}
