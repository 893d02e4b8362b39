package voxel

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"voxeltest.ai/internal/sim/geom"
	"voxeltest.ai/internal/sim/structures"
)

const Air = "air"

var (
	ErrUnknownBlock     = errors.New("unknown block")
	ErrUnknownStructure = errors.New("unknown structure")
)

type Config struct {
	// Palette lists the block names the world accepts. "air" is always index 0.
	Palette []string
	// Fill is the backing material written below an arena floor when a region is cleared.
	Fill       string
	Structures *structures.Catalog
}

// World is an in-memory chunked block world. It is not safe for concurrent use;
// it is mutated from the tick loop only.
type World struct {
	palette []string
	index   map[string]uint16
	fill    uint16
	cats    *structures.Catalog

	chunks     map[ChunkKey]*Chunk
	placements map[geom.Vec3i]structures.Placement
	held       map[ChunkKey]int
}

func New(cfg Config) (*World, error) {
	w := &World{
		palette:    []string{Air},
		index:      map[string]uint16{Air: 0},
		cats:       cfg.Structures,
		chunks:     map[ChunkKey]*Chunk{},
		placements: map[geom.Vec3i]structures.Placement{},
		held:       map[ChunkKey]int{},
	}
	for _, name := range cfg.Palette {
		if _, ok := w.index[name]; ok {
			continue
		}
		if len(w.palette) > 0xFFFF {
			return nil, fmt.Errorf("palette too large")
		}
		w.index[name] = uint16(len(w.palette))
		w.palette = append(w.palette, name)
	}
	if cfg.Fill != "" {
		id, ok := w.index[cfg.Fill]
		if !ok {
			return nil, fmt.Errorf("fill %q: %w", cfg.Fill, ErrUnknownBlock)
		}
		w.fill = id
	}
	if w.cats == nil {
		w.cats = &structures.Catalog{ByID: map[string]structures.Def{}}
	}
	return w, nil
}

func (w *World) Palette() []string { return append([]string(nil), w.palette...) }

func (w *World) chunkAt(x, z int, create bool) (*Chunk, int, int) {
	k := ChunkKey{CX: floorDiv(x, chunkSize), CZ: floorDiv(z, chunkSize)}
	ch := w.chunks[k]
	if ch == nil && create {
		ch = newChunk(k.CX, k.CZ)
		w.chunks[k] = ch
	}
	return ch, mod(x, chunkSize), mod(z, chunkSize)
}

func (w *World) blockID(p geom.Vec3i) uint16 {
	ch, lx, lz := w.chunkAt(p.X, p.Z, false)
	if ch == nil {
		return 0
	}
	return ch.Get(lx, p.Y, lz)
}

func (w *World) setID(p geom.Vec3i, id uint16) {
	ch, lx, lz := w.chunkAt(p.X, p.Z, id != 0)
	if ch == nil {
		return
	}
	ch.Set(lx, p.Y, lz, id)
}

func (w *World) BlockAt(p geom.Vec3i) string {
	return w.palette[w.blockID(p)]
}

func (w *World) SetBlock(p geom.Vec3i, block string) error {
	id, ok := w.index[block]
	if !ok {
		return fmt.Errorf("%q: %w", block, ErrUnknownBlock)
	}
	w.setID(p, id)
	return nil
}

func (w *World) StructureSize(name string) (geom.Vec3i, error) {
	d, ok := w.cats.Lookup(name)
	if !ok {
		return geom.Vec3i{}, fmt.Errorf("%q: %w", name, ErrUnknownStructure)
	}
	return d.SizeVec(), nil
}

// PlaceStructure writes the structure's blocks into its rotated footprint at
// origin and records an arena marker for test.
func (w *World) PlaceStructure(test, name string, origin geom.Vec3i, rot geom.Rotation) (geom.Box, error) {
	d, ok := w.cats.Lookup(name)
	if !ok {
		return geom.Box{}, fmt.Errorf("%q: %w", name, ErrUnknownStructure)
	}
	ids := make([]uint16, len(d.Blocks))
	for i, b := range d.Blocks {
		id, ok := w.index[b.Block]
		if !ok {
			return geom.Box{}, fmt.Errorf("structure %s: %q: %w", name, b.Block, ErrUnknownBlock)
		}
		ids[i] = id
	}

	size := d.SizeVec()
	box := geom.PlaceBox(origin, size, rot)
	box.Each(func(p geom.Vec3i) { w.setID(p, 0) })

	tr := geom.Transform{Origin: origin, Size: size, Rot: rot}
	for i, b := range d.Blocks {
		w.setID(tr.Apply(geom.V(b.Pos[0], b.Pos[1], b.Pos[2])), ids[i])
	}
	w.placements[origin] = structures.Placement{
		Test:      test,
		Structure: name,
		Origin:    origin,
		Rotation:  rot,
		Box:       box,
	}
	return box, nil
}

// ClearRegion resets box: positions below floorY become the fill material,
// everything else becomes air. Arena markers inside the region are dropped.
func (w *World) ClearRegion(box geom.Box, floorY int) error {
	box.Each(func(p geom.Vec3i) {
		if p.Y < floorY {
			w.setID(p, w.fill)
		} else {
			w.setID(p, 0)
		}
	})
	for origin, pl := range w.placements {
		if pl.Box.Intersects(box) {
			delete(w.placements, origin)
		}
	}
	return nil
}

// Placements lists arena markers currently in the world ordered by origin.
func (w *World) Placements() []structures.Placement {
	out := make([]structures.Placement, 0, len(w.placements))
	for _, p := range w.placements {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Origin, out[j].Origin
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		return a.Y < b.Y
	})
	return out
}

// Hold keeps every chunk touched by box loaded until a matching Release.
func (w *World) Hold(box geom.Box) {
	for _, k := range chunkKeys(box) {
		w.held[k]++
		if _, ok := w.chunks[k]; !ok {
			w.chunks[k] = newChunk(k.CX, k.CZ)
		}
	}
}

func (w *World) Release(box geom.Box) {
	for _, k := range chunkKeys(box) {
		if w.held[k] <= 1 {
			delete(w.held, k)
			continue
		}
		w.held[k]--
	}
}

func (w *World) HeldChunks() int { return len(w.held) }

func chunkKeys(box geom.Box) []ChunkKey {
	var keys []ChunkKey
	for cz := floorDiv(box.Min.Z, chunkSize); cz <= floorDiv(box.Max.Z, chunkSize); cz++ {
		for cx := floorDiv(box.Min.X, chunkSize); cx <= floorDiv(box.Max.X, chunkSize); cx++ {
			keys = append(keys, ChunkKey{CX: cx, CZ: cz})
		}
	}
	return keys
}

// Digest hashes all loaded chunks in key order.
func (w *World) Digest() string {
	keys := make([]ChunkKey, 0, len(w.chunks))
	for k := range w.chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		return keys[i].CZ < keys[j].CZ
	})
	h := sha256.New()
	for _, k := range keys {
		d := w.chunks[k].Digest()
		if d == emptyDigest {
			continue
		}
		fmt.Fprintf(h, "%d,%d:", k.CX, k.CZ)
		h.Write(d[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

var emptyDigest = newChunk(0, 0).Digest()
