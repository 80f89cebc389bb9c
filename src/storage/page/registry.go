package page

import (
	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/PageStore/src/pkg/common"
)

var (
	ErrUnknownKind  = errors.New("unknown page kind")
	ErrBadImageSize = errors.New("page image has wrong size")
)

// Decoder rebuilds a page of one kind from its serialized image.
type Decoder func(id common.PageIdentity, data []byte) (Page, error)

// Registry is the closed table of page kinds the store knows how to rebuild.
// It is filled once at start up and read concurrently afterwards.
type Registry struct {
	pageSize int
	decoders map[Kind]Decoder
}

func NewRegistry(pageSize int) *Registry {
	return &Registry{
		pageSize: pageSize,
		decoders: map[Kind]Decoder{},
	}
}

// DefaultRegistry decodes every kind into a RawPage.
func DefaultRegistry(pageSize int) *Registry {
	r := NewRegistry(pageSize)
	for k := KindHeap; k < kindUnknown; k++ {
		kind := k
		r.Register(kind, func(id common.PageIdentity, data []byte) (Page, error) {
			return NewRawPageOfKind(id, kind, data), nil
		})
	}

	return r
}

func (r *Registry) Register(kind Kind, d Decoder) {
	r.decoders[kind] = d
}

func (r *Registry) PageSize() int {
	return r.pageSize
}

func (r *Registry) Decode(kind Kind, id common.PageIdentity, data []byte) (Page, error) {
	d, ok := r.decoders[kind]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownKind, "tag %d", uint32(kind))
	}

	if len(data) != r.pageSize {
		return nil, errors.Wrapf(
			ErrBadImageSize,
			"page %v: got %d bytes, want %d",
			id,
			len(data),
			r.pageSize,
		)
	}

	return d(id, data)
}

// NewEmpty returns a zero-filled page for a freshly allocated slot.
func (r *Registry) NewEmpty(id common.PageIdentity) (Page, error) {
	return r.Decode(KindOf(id), id, make([]byte, r.pageSize))
}
