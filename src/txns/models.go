package txns

type TaggedType[T any] struct{ v T } // this trick forbids casting one lock mode to another

type PageLockMode TaggedType[uint8]

var (
	PAGE_LOCK_SHARED    PageLockMode = PageLockMode{0}
	PAGE_LOCK_EXCLUSIVE PageLockMode = PageLockMode{1}
)

func (m PageLockMode) String() string {
	switch m {
	case PAGE_LOCK_SHARED:
		return "SHARED"
	case PAGE_LOCK_EXCLUSIVE:
		return "EXCLUSIVE"
	default:
		return "UNKNOWN"
	}
}

// Compatible reports whether two different transactions may hold m and other
// on the same page at once.
func (m PageLockMode) Compatible(other PageLockMode) bool {
	if m == PAGE_LOCK_SHARED && other == PAGE_LOCK_SHARED {
		return true
	}
	return false
}

// Covers reports whether holding m already satisfies a request for other.
func (m PageLockMode) Covers(other PageLockMode) bool {
	return m == PAGE_LOCK_EXCLUSIVE || m == other
}

func (m PageLockMode) Upgradable(to PageLockMode) bool {
	switch m {
	case PAGE_LOCK_SHARED:
		switch to {
		case PAGE_LOCK_SHARED:
			return true
		case PAGE_LOCK_EXCLUSIVE:
			return true
		}
	case PAGE_LOCK_EXCLUSIVE:
		return to == PAGE_LOCK_EXCLUSIVE
	}
	return false
}
