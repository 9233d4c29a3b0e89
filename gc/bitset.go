package gc

// bitset holds one mark bit per heap slot.
type bitset []uint64

func (b *bitset) grow(n int) {
	words := (n + 63) / 64
	for len(*b) < words {
		*b = append(*b, 0)
	}
}

func (b bitset) test(i uint32) bool {
	return b[i/64]&(1<<(i%64)) != 0
}

func (b bitset) set(i uint32) {
	b[i/64] |= 1 << (i % 64)
}

func (b bitset) reset() {
	clear(b)
}
