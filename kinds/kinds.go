package kinds

const (
	length   = 64
	idLength = 8
	depthMax = length / idLength
	idMask   = (1 << idLength) - 1
)

// Bases returns the base ids of a kind at each level beyond the first.
func Bases(t uint64) [depthMax]uint64 {
	var bases [depthMax]uint64
	for i := 1; i < depthMax; i++ {
		bases[i-1] = (t >> (idLength * i)) & idMask
	}
	return bases
}

// Kind packs id together with the ids of every base into a single uint64.
func Kind(id uint64, bases ...uint64) uint64 {
	id = id & idMask
	ids := make(map[uint64]struct{})

	for _, base := range bases {
		for j := 0; j < depthMax; j++ {
			baseId := (base >> (idLength * j)) & idMask
			if baseId == 0 {
				break
			}
			if _, ok := ids[baseId]; !ok {
				ids[baseId] = struct{}{}
				id |= baseId << (idLength * len(ids))
			}
		}
	}
	return id
}

// IsKind reports whether kind is, or derives from, any of bases.
func IsKind(kind uint64, bases ...uint64) bool {
	for _, base := range bases {
		baseId := base & idMask
		if kind == baseId {
			return true
		}
		for i := 0; i < depthMax; i++ {
			currentId := (kind >> (idLength * i)) & idMask
			if currentId == baseId {
				return true
			}
		}
	}
	return false
}

var (
	Null    = Kind(0)
	Element = Kind(1)
	Model   = Kind(2, Element)
	Type    = Kind(3, Element)
	Action  = Kind(4, Element)
	Mixin   = Kind(5, Action)

	Event         = Kind(6, Element)
	Authorization = Kind(7, Event)
	Hide          = Kind(8, Authorization)
	Disable       = Kind(9, Authorization)
	Validate      = Kind(10, Authorization)
	Invocation    = Kind(11, Event)
	Executing     = Kind(12, Invocation)
	Executed      = Kind(13, Invocation)

	Execution = Kind(14, Element)
	Command   = Kind(15, Element)
)
