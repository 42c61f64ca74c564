// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package kvtest contains a conformance suite shared by all kv.Store
// implementations.
package kvtest

import (
	"fmt"
	"testing"

	"github.com/fieldmht/accumulator/backend/kv"
	"github.com/stretchr/testify/require"
)

// Factory creates a fresh, empty store for a single test case.
type Factory func(t *testing.T) kv.Store

// RunStoreTests runs the conformance suite against stores produced by the
// given factory.
func RunStoreTests(t *testing.T, factory Factory) {
	t.Run("MissingKeysAreNotFound", func(t *testing.T) {
		s := open(t, factory)
		_, found, err := s.Get([]byte("missing"))
		require.NoError(t, err)
		require.False(t, found)
	})

	t.Run("PutAndGet", func(t *testing.T) {
		s := open(t, factory)
		require.NoError(t, s.Put([]byte{1}, []byte{10, 11}))
		require.NoError(t, s.Put([]byte{2}, []byte{20}))
		value, found, err := s.Get([]byte{1})
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, []byte{10, 11}, value)

		require.NoError(t, s.Put([]byte{1}, []byte{12}))
		value, found, err = s.Get([]byte{1})
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, []byte{12}, value)
	})

	t.Run("ReturnedValuesAreCopies", func(t *testing.T) {
		s := open(t, factory)
		input := []byte{1, 2, 3}
		require.NoError(t, s.Put([]byte{1}, input))
		input[0] = 9
		value, _, err := s.Get([]byte{1})
		require.NoError(t, err)
		require.Equal(t, []byte{1, 2, 3}, value)
		value[1] = 9
		again, _, err := s.Get([]byte{1})
		require.NoError(t, err)
		require.Equal(t, []byte{1, 2, 3}, again)
	})

	t.Run("Delete", func(t *testing.T) {
		s := open(t, factory)
		require.NoError(t, s.Put([]byte{1}, []byte{10}))
		require.NoError(t, s.Delete([]byte{1}))
		require.NoError(t, s.Delete([]byte{2}))
		_, found, err := s.Get([]byte{1})
		require.NoError(t, err)
		require.False(t, found)
	})

	t.Run("BatchIsAppliedOnWrite", func(t *testing.T) {
		s := open(t, factory)
		require.NoError(t, s.Put([]byte{3}, []byte{30}))
		batch := s.NewBatch()
		for i := byte(0); i < 3; i++ {
			batch.Put([]byte{i}, []byte{i * 10})
		}
		batch.Delete([]byte{3})
		require.Equal(t, 4, batch.Len())

		_, found, err := s.Get([]byte{0})
		require.NoError(t, err)
		require.False(t, found, "batch content visible before write")

		require.NoError(t, batch.Write())
		for i := byte(0); i < 3; i++ {
			value, found, err := s.Get([]byte{i})
			require.NoError(t, err)
			require.True(t, found, fmt.Sprintf("key %d", i))
			require.Equal(t, []byte{i * 10}, value)
		}
		_, found, err = s.Get([]byte{3})
		require.NoError(t, err)
		require.False(t, found)
	})

	t.Run("LaterBatchOperationsWin", func(t *testing.T) {
		s := open(t, factory)
		batch := s.NewBatch()
		batch.Put([]byte{1}, []byte{1})
		batch.Put([]byte{1}, []byte{2})
		batch.Put([]byte{2}, []byte{2})
		batch.Delete([]byte{2})
		require.NoError(t, batch.Write())

		value, found, err := s.Get([]byte{1})
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, []byte{2}, value)
		_, found, err = s.Get([]byte{2})
		require.NoError(t, err)
		require.False(t, found)
	})

	t.Run("EmptyBatchCanBeWritten", func(t *testing.T) {
		s := open(t, factory)
		require.NoError(t, s.NewBatch().Write())
	})

	t.Run("BatchCanBeReused", func(t *testing.T) {
		s := open(t, factory)
		batch := s.NewBatch()
		batch.Put([]byte{1}, []byte{1})
		require.NoError(t, batch.Write())
		batch.Put([]byte{2}, []byte{2})
		require.NoError(t, batch.Write())
		for _, key := range []byte{1, 2} {
			_, found, err := s.Get([]byte{key})
			require.NoError(t, err)
			require.True(t, found)
		}
	})
}

func open(t *testing.T, factory Factory) kv.Store {
	t.Helper()
	s := factory(t)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}
