package masstree

// permuter is the 64-bit encoding of which of a leaf's physical slots are
// live and in what logical order, per spec.md section 3: the low 4 bits
// hold the live count, and the 15 4-bit fields above them name every
// physical slot once: the first size() in logical order, the rest the
// free tail.
type permuter uint64

// emptyPermuter returns the permuter for a leaf with no live slots: size
// 0, free tail listing physical slots 0..leafWidth-1 in order so back()
// hands them out in a predictable sequence.
func emptyPermuter() permuter {
	var p uint64
	for i := 0; i < leafWidth; i++ {
		p |= uint64(i) << uint(4+4*i)
	}
	return permuter(p)
}

func (p permuter) size() int { return int(p & 0xf) }

func (p permuter) nibble(i int) int {
	return int((uint64(p) >> uint(4+4*i)) & 0xf)
}

func (p permuter) withNibble(i, val int) permuter {
	shift := uint(4 + 4*i)
	mask := uint64(0xf) << shift
	return permuter((uint64(p) &^ mask) | (uint64(val&0xf) << shift))
}

func (p permuter) withSize(n int) permuter {
	return permuter((uint64(p) &^ 0xf) | uint64(n&0xf))
}

// at returns the physical slot stored at logical position i, for
// i in [0, size()).
func (p permuter) at(i int) int { return p.nibble(i) }

// back returns the physical slot that the next insertion will claim.
func (p permuter) back() int { return p.nibble(p.size()) }

// insertFromBack makes the slot named by back() the new logical position
// i, shifting logical positions [i, size) up by one.
func (p permuter) insertFromBack(i int) permuter {
	sz := p.size()
	slot := p.nibble(sz)
	np := p
	for j := sz; j > i; j-- {
		np = np.withNibble(j, np.nibble(j-1))
	}
	np = np.withNibble(i, slot)
	return np.withSize(sz + 1)
}

// remove rotates the slot at logical position i to the head of the free
// tail (position size-1), so back() hands it out next, shifting logical
// positions (i, size) down by one.
func (p permuter) remove(i int) permuter {
	sz := p.size()
	removed := p.nibble(i)
	np := p
	for j := i; j < sz-1; j++ {
		np = np.withNibble(j, np.nibble(j+1))
	}
	np = np.withNibble(sz-1, removed)
	return np.withSize(sz - 1)
}

// permuterFromOrder builds a permuter directly from an explicit physical
// slot order, used by a split to rebuild both halves in one step rather
// than through repeated insertFromBack calls. The free-list tail is
// filled with whatever physical slots are absent from order, in
// ascending order; every permuter invariably names each of the
// leafWidth physical slots exactly once.
func permuterFromOrder(order []int) permuter {
	var bits uint64
	var used [leafWidth]bool
	for i, phys := range order {
		bits |= uint64(phys) << uint(4+4*i)
		used[phys] = true
	}
	free := len(order)
	for phys := 0; phys < leafWidth; phys++ {
		if !used[phys] {
			bits |= uint64(phys) << uint(4+4*free)
			free++
		}
	}
	bits |= uint64(len(order) & 0xf)
	return permuter(bits)
}

// exchange swaps the physical slots named at logical positions i and j.
func (p permuter) exchange(i, j int) permuter {
	vi, vj := p.nibble(i), p.nibble(j)
	return p.withNibble(i, vj).withNibble(j, vi)
}
