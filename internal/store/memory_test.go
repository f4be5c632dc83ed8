package store_test

import (
	"testing"

	"github.com/livepoll/classroom/internal/store"
	"github.com/livepoll/classroom/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return store.NewMemory()
	})
}
