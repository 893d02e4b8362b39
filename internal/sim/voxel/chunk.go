package voxel

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
)

const chunkSize = 16

type ChunkKey struct {
	CX int
	CZ int
}

// Chunk is a 16x16 column of block layers. Layers are allocated lazily per y.
type Chunk struct {
	CX, CZ int
	layers map[int][]uint16

	dirty bool
	hash  [32]byte
}

func newChunk(cx, cz int) *Chunk {
	return &Chunk{CX: cx, CZ: cz, layers: map[int][]uint16{}, dirty: true}
}

func (c *Chunk) index(x, z int) int {
	return x + z*chunkSize
}

func (c *Chunk) Get(x, y, z int) uint16 {
	l := c.layers[y]
	if l == nil {
		return 0
	}
	return l[c.index(x, z)]
}

func (c *Chunk) Set(x, y, z int, b uint16) {
	l := c.layers[y]
	if l == nil {
		if b == 0 {
			return
		}
		l = make([]uint16, chunkSize*chunkSize)
		c.layers[y] = l
	}
	i := c.index(x, z)
	if l[i] == b {
		return
	}
	l[i] = b
	c.dirty = true
}

func (c *Chunk) Digest() [32]byte {
	if c.dirty || c.hash == ([32]byte{}) {
		ys := make([]int, 0, len(c.layers))
		for y, l := range c.layers {
			if !allAir(l) {
				ys = append(ys, y)
			}
		}
		sort.Ints(ys)

		h := sha256.New()
		var tmp [8]byte
		for _, y := range ys {
			binary.LittleEndian.PutUint64(tmp[:], uint64(int64(y)))
			h.Write(tmp[:])
			for _, v := range c.layers[y] {
				binary.LittleEndian.PutUint16(tmp[:2], v)
				h.Write(tmp[:2])
			}
		}
		copy(c.hash[:], h.Sum(nil))
		c.dirty = false
	}
	return c.hash
}

func allAir(l []uint16) bool {
	for _, v := range l {
		if v != 0 {
			return false
		}
	}
	return true
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
