package bufferpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/PageStore/src/pkg/common"
)

func evictAll(common.PageIdentity) bool { return true }

func TestAgeReplacerBasic(t *testing.T) {
	r := NewAgeReplacer()

	tableID := common.TableID(42)
	first := common.NewHeapPageIdentity(tableID, 1)
	second := common.NewHeapPageIdentity(tableID, 2)
	third := common.NewHeapPageIdentity(tableID, 3)
	fourth := common.NewHeapPageIdentity(tableID, 4)

	r.Admit(first)
	r.Admit(second)
	r.Admit(third)
	assert.Equal(t, uint64(3), r.GetSize())

	r.Remove(second)
	assert.Equal(t, uint64(2), r.GetSize())

	victim, err := r.ChooseVictim(evictAll)
	require.NoError(t, err)
	assert.Equal(t, first, victim)
	assert.Equal(t, uint64(1), r.GetSize())

	r.Admit(fourth)
	r.Admit(third) // readmission makes it the youngest

	victim, err = r.ChooseVictim(evictAll)
	require.NoError(t, err)
	assert.Equal(t, fourth, victim)
}

func TestAgeReplacerSkipsPinned(t *testing.T) {
	r := NewAgeReplacer()

	dirty := common.NewHeapPageIdentity(1, 0)
	clean := common.NewHeapPageIdentity(1, 1)

	r.Admit(dirty)
	r.Admit(clean)

	victim, err := r.ChooseVictim(func(p common.PageIdentity) bool { return p != dirty })
	require.NoError(t, err)
	assert.Equal(t, clean, victim)

	_, err = r.ChooseVictim(func(p common.PageIdentity) bool { return p != dirty })
	require.ErrorIs(t, err, ErrNoVictim)
	assert.Equal(t, uint64(1), r.GetSize())
}

func TestAgeReplacerChooseVictimEmpty(t *testing.T) {
	r := NewAgeReplacer()

	_, err := r.ChooseVictim(evictAll)
	assert.ErrorIs(t, err, ErrNoVictim)
}

func TestAgeReplacerConcurrent(t *testing.T) {
	r := NewAgeReplacer()

	const n = 100

	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		go func(pageNo common.PageNo) {
			defer wg.Done()
			r.Admit(common.NewHeapPageIdentity(1, pageNo))
		}(common.PageNo(i))
	}
	wg.Wait()

	assert.Equal(t, uint64(n), r.GetSize())

	seen := map[common.PageIdentity]struct{}{}
	for range n {
		victim, err := r.ChooseVictim(evictAll)
		require.NoError(t, err)
		seen[victim] = struct{}{}
	}
	assert.Len(t, seen, n)
	assert.Equal(t, uint64(0), r.GetSize())
}
