package bufferpool

import (
	"container/list"
	"sync"

	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/PageStore/src/pkg/common"
)

var ErrNoVictim = errors.New("no victim available")

// AgeReplacer orders cached pages by admission. A page that is admitted again
// becomes the youngest; a cache hit does not change its age.
type AgeReplacer struct {
	mu     sync.Mutex
	ages   *list.List // front is the youngest
	frames map[common.PageIdentity]*list.Element
}

var (
	_ Replacer = &AgeReplacer{}
)

func NewAgeReplacer() *AgeReplacer {
	return &AgeReplacer{
		ages:   list.New(),
		frames: make(map[common.PageIdentity]*list.Element),
	}
}

func (r *AgeReplacer) Admit(pageIdent common.PageIdentity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if elem, ok := r.frames[pageIdent]; ok {
		r.ages.MoveToFront(elem)
		return
	}

	r.frames[pageIdent] = r.ages.PushFront(pageIdent)
}

func (r *AgeReplacer) Remove(pageIdent common.PageIdentity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if elem, ok := r.frames[pageIdent]; ok {
		r.ages.Remove(elem)
		delete(r.frames, pageIdent)
	}
}

// ChooseVictim removes and returns the oldest page accepted by evictable.
func (r *AgeReplacer) ChooseVictim(
	evictable func(common.PageIdentity) bool,
) (common.PageIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for elem := r.ages.Back(); elem != nil; elem = elem.Prev() {
		pageIdent := elem.Value.(common.PageIdentity)
		if !evictable(pageIdent) {
			continue
		}

		r.ages.Remove(elem)
		delete(r.frames, pageIdent)

		return pageIdent, nil
	}

	return common.PageIdentity{}, ErrNoVictim
}

func (r *AgeReplacer) GetSize() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return uint64(len(r.frames))
}
