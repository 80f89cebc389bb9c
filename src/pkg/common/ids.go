package common

import (
	"fmt"

	"github.com/go-faster/errors"
)

type TableID uint32
type PageNo uint32

// PageCategory distinguishes the page roles of an indexed file.
// Flat (heap) files always use CategoryNone.
type PageCategory uint32

const (
	CategoryNone PageCategory = iota
	CategoryRootPtr
	CategoryInternal
	CategoryLeaf
	CategoryHeader
	categoryUnknown
)

func (c PageCategory) String() string {
	switch c {
	case CategoryNone:
		return "NONE"
	case CategoryRootPtr:
		return "ROOT_PTR"
	case CategoryInternal:
		return "INTERNAL"
	case CategoryLeaf:
		return "LEAF"
	case CategoryHeader:
		return "HEADER"
	default:
		return fmt.Sprintf("CATEGORY(%d)", uint32(c))
	}
}

func (c PageCategory) Valid() bool {
	return c < categoryUnknown
}

var ErrBadPageIdentity = errors.New("malformed page identity")

// PageIdentity is immutable and comparable, so it is used directly as a map key
// by the page cache and the lock table.
type PageIdentity struct {
	TableID  TableID
	PageNo   PageNo
	Category PageCategory
}

func NewHeapPageIdentity(tableID TableID, pageNo PageNo) PageIdentity {
	return PageIdentity{TableID: tableID, PageNo: pageNo, Category: CategoryNone}
}

func (p PageIdentity) String() string {
	if p.Category == CategoryNone {
		return fmt.Sprintf("(table: %d, page: %d)", p.TableID, p.PageNo)
	}

	return fmt.Sprintf(
		"(table: %d, page: %d, category: %s)",
		p.TableID,
		p.PageNo,
		p.Category,
	)
}

// Serialize returns the components written into update log records.
func (p PageIdentity) Serialize() []uint32 {
	if p.Category == CategoryNone {
		return []uint32{uint32(p.TableID), uint32(p.PageNo)}
	}

	return []uint32{uint32(p.TableID), uint32(p.PageNo), uint32(p.Category)}
}

func PageIdentityFromComponents(components []uint32) (PageIdentity, error) {
	switch len(components) {
	case 2:
		return NewHeapPageIdentity(TableID(components[0]), PageNo(components[1])), nil
	case 3:
		category := PageCategory(components[2])
		if category == CategoryNone || !category.Valid() {
			return PageIdentity{}, errors.Wrapf(
				ErrBadPageIdentity,
				"invalid category %d",
				components[2],
			)
		}

		return PageIdentity{
			TableID:  TableID(components[0]),
			PageNo:   PageNo(components[1]),
			Category: category,
		}, nil
	default:
		return PageIdentity{}, errors.Wrapf(
			ErrBadPageIdentity,
			"expected 2 or 3 components, got %d",
			len(components),
		)
	}
}
