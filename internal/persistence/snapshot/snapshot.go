// Package snapshot writes the blocks of failed arenas to compressed files so
// a failure can be inspected after the world is gone.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"voxeltest.ai/internal/gametest"
	"voxeltest.ai/internal/sim/geom"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id"`
	Test    string `json:"test"`
	Attempt int    `json:"attempt"`
	Tick    int64  `json:"tick"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Run is Count consecutive blocks with the same palette index, in x, then z,
// then y order.
type Run struct {
	ID    uint16
	Count uint32
}

type Arena struct {
	Header  Header
	Box     geom.Box
	Palette []string
	Runs    []Run
}

// BlockReader is the world capability Capture needs.
type BlockReader interface {
	BlockAt(pos geom.Vec3i) string
}

// Capture copies every block inside box.
func Capture(w BlockReader, box geom.Box) Arena {
	a := Arena{Header: Header{Version: Version}, Box: box}
	index := map[string]uint16{}
	for y := box.Min.Y; y <= box.Max.Y; y++ {
		for z := box.Min.Z; z <= box.Max.Z; z++ {
			for x := box.Min.X; x <= box.Max.X; x++ {
				name := w.BlockAt(geom.V(x, y, z))
				id, ok := index[name]
				if !ok {
					id = uint16(len(a.Palette))
					index[name] = id
					a.Palette = append(a.Palette, name)
				}
				if n := len(a.Runs); n > 0 && a.Runs[n-1].ID == id {
					a.Runs[n-1].Count++
					continue
				}
				a.Runs = append(a.Runs, Run{ID: id, Count: 1})
			}
		}
	}
	return a
}

// BlockAt returns the captured block at a world position, or "" outside the
// captured box.
func (a Arena) BlockAt(p geom.Vec3i) string {
	if !a.Box.Contains(p) {
		return ""
	}
	sx, sz := a.Box.SizeX(), a.Box.SizeZ()
	off := uint32((p.Y-a.Box.Min.Y)*sx*sz + (p.Z-a.Box.Min.Z)*sx + (p.X - a.Box.Min.X))
	for _, r := range a.Runs {
		if off < r.Count {
			return a.Palette[r.ID]
		}
		off -= r.Count
	}
	return ""
}

// WriteArena stores a as a zstd stream: one JSON header line followed by
// the gob encoded arena.
func WriteArena(path string, a Arena) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(a.Header)
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&a); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func ReadArena(path string) (Arena, error) {
	var a Arena
	f, err := os.Open(path)
	if err != nil {
		return a, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return a, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	// The header line is for tools that only peek; gob repeats it.
	if _, err := br.ReadBytes('\n'); err != nil {
		return a, err
	}
	if err := gob.NewDecoder(br).Decode(&a); err != nil {
		return a, fmt.Errorf("gob decode: %w", err)
	}
	return a, nil
}

// Recorder snapshots the arena of every failed attempt into dir.
type Recorder struct {
	gametest.NopListener
	dir   string
	runID string

	mu      sync.Mutex
	written []string
	err     error
}

func NewRecorder(dir, runID string) *Recorder {
	return &Recorder{dir: dir, runID: runID}
}

func (r *Recorder) OnFailed(inst *gametest.Instance, _ *gametest.Runner) {
	if inst.World() == nil || inst.Bounds() == (geom.Box{}) {
		return
	}
	a := Capture(inst.World(), inst.Bounds())
	a.Header.RunID = r.runID
	a.Header.Test = inst.Name()
	a.Header.Attempt = inst.Attempt()
	a.Header.Tick = inst.Tick()
	if err := inst.Err(); err != nil {
		a.Header.Code = gametest.Code(err)
		a.Header.Error = err.Error()
	}
	path := filepath.Join(r.dir, fmt.Sprintf("%s-%d.arena.zst", strings.ReplaceAll(inst.Name(), "/", "_"), inst.Attempt()))
	err := WriteArena(path, a)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		if r.err == nil {
			r.err = err
		}
		return
	}
	r.written = append(r.written, path)
}

// Written lists the files written so far.
func (r *Recorder) Written() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.written...)
}

// Err is the first write error, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
