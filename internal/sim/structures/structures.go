package structures

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"voxeltest.ai/internal/sim/geom"
)

// Def is a structure template an arena is built from.
type Def struct {
	ID     string      `json:"id"`
	Author string      `json:"author,omitempty"`
	Size   [3]int      `json:"size"`
	Blocks []BlockSpec `json:"blocks"`
}

type BlockSpec struct {
	Pos   [3]int `json:"pos"`
	Block string `json:"block"`
}

func (d Def) SizeVec() geom.Vec3i { return geom.V(d.Size[0], d.Size[1], d.Size[2]) }

// Placement records a structure that was placed for a test.
type Placement struct {
	Test      string        `json:"test"`
	Structure string        `json:"structure"`
	Origin    geom.Vec3i    `json:"origin"`
	Rotation  geom.Rotation `json:"rotation"`
	Box       geom.Box      `json:"box"`
}

type Catalog struct {
	ByID   map[string]Def
	Digest string
}

func (c *Catalog) Lookup(id string) (Def, bool) {
	if c == nil {
		return Def{}, false
	}
	d, ok := c.ByID[id]
	return d, ok
}

func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.ByID))
	for id := range c.ByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Add registers an in-memory structure. It is mostly useful for tests.
func (c *Catalog) Add(d Def) error {
	if err := d.validate(); err != nil {
		return err
	}
	if c.ByID == nil {
		c.ByID = map[string]Def{}
	}
	c.ByID[d.ID] = d
	return nil
}

// Load reads every *.json structure file in dir.
func Load(dir string) (*Catalog, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return &Catalog{ByID: map[string]Def{}, Digest: sha256Hex(nil)}, nil
	}
	return LoadFS(os.DirFS(dir), ".")
}

func LoadFS(fsys fs.FS, dir string) (*Catalog, error) {
	c := &Catalog{ByID: map[string]Def{}}

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".json") {
			files = append(files, path.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	var concat bytes.Buffer
	for _, p := range files {
		b, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, err
		}
		concat.Write(b)
		concat.WriteByte('\n')

		var d Def
		if err := json.Unmarshal(b, &d); err != nil {
			return nil, fmt.Errorf("structure %s: %w", path.Base(p), err)
		}
		if err := d.validate(); err != nil {
			return nil, fmt.Errorf("structure %s: %w", path.Base(p), err)
		}
		if _, dup := c.ByID[d.ID]; dup {
			return nil, fmt.Errorf("structure %s: duplicate id %q", path.Base(p), d.ID)
		}
		c.ByID[d.ID] = d
	}
	c.Digest = sha256Hex(concat.Bytes())
	return c, nil
}

func (d Def) validate() error {
	if d.ID == "" {
		return fmt.Errorf("missing id")
	}
	for i, s := range d.Size {
		if s <= 0 {
			return fmt.Errorf("size[%d] must be > 0", i)
		}
	}
	for i, b := range d.Blocks {
		if b.Block == "" {
			return fmt.Errorf("blocks[%d]: empty block", i)
		}
		for axis := 0; axis < 3; axis++ {
			if b.Pos[axis] < 0 || b.Pos[axis] >= d.Size[axis] {
				return fmt.Errorf("blocks[%d]: pos %v outside size %v", i, b.Pos, d.Size)
			}
		}
	}
	return nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
