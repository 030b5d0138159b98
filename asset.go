package bedrock

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"

	"github.com/google/btree"
)

// AssetKind is the decoded form an asset takes in a DataHandler.
type AssetKind uint8

const (
	AssetTexture AssetKind = iota
	AssetSound
	AssetMusic
	AssetFont
	AssetText
)

var assetKindNames = [...]string{"texture", "sound", "music", "font", "text"}

func (k AssetKind) String() string {
	if int(k) < len(assetKindNames) {
		return assetKindNames[k]
	}
	return fmt.Sprintf("AssetKind(%d)", uint8(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k AssetKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler. Plural forms are
// accepted.
func (k *AssetKind) UnmarshalText(b []byte) error {
	name := strings.TrimSuffix(strings.ToLower(string(b)), "s")
	for i, n := range assetKindNames {
		if n == name {
			*k = AssetKind(i)
			return nil
		}
	}
	return configErrorf("unknown asset kind %q", string(b))
}

// AssetRef names one asset a DataHandler needs.
type AssetRef struct {
	Kind AssetKind `json:"kind"`
	Name string    `json:"name"`
}

func (r AssetRef) String() string { return r.Kind.String() + ":" + r.Name }

type assetEntry struct {
	ref  AssetRef
	path string
}

func assetLess(a, b assetEntry) bool {
	if a.ref.Kind != b.ref.Kind {
		return a.ref.Kind < b.ref.Kind
	}
	return a.ref.Name < b.ref.Name
}

// AssetIndex maps asset names to paths, ordered by kind then name. It is
// safe for concurrent use; Replace swaps the whole index atomically.
type AssetIndex struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[assetEntry]
}

// NewAssetIndex returns an empty index.
func NewAssetIndex() *AssetIndex {
	return &AssetIndex{tree: btree.NewG[assetEntry](8, assetLess)}
}

// Put adds or replaces the path for (kind, name).
func (x *AssetIndex) Put(kind AssetKind, name, path string) {
	x.mu.Lock()
	x.tree.ReplaceOrInsert(assetEntry{ref: AssetRef{Kind: kind, Name: name}, path: path})
	x.mu.Unlock()
}

// Lookup returns the path registered for ref.
func (x *AssetIndex) Lookup(ref AssetRef) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.tree.Get(assetEntry{ref: ref})
	return e.path, ok
}

// Len returns the number of entries.
func (x *AssetIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.tree.Len()
}

// Names returns the names registered for kind in order.
func (x *AssetIndex) Names(kind AssetKind) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var names []string
	x.tree.AscendRange(assetEntry{ref: AssetRef{Kind: kind}}, assetEntry{ref: AssetRef{Kind: kind + 1}},
		func(e assetEntry) bool {
			names = append(names, e.ref.Name)
			return true
		})
	return names
}

// Replace swaps in the contents of other.
func (x *AssetIndex) Replace(other *AssetIndex) {
	other.mu.RLock()
	tree := other.tree.Clone()
	other.mu.RUnlock()
	x.mu.Lock()
	x.tree = tree
	x.mu.Unlock()
}

type assetIndexFile struct {
	Textures map[string]string `json:"textures"`
	Sounds   map[string]string `json:"sounds"`
	Music    map[string]string `json:"music"`
	Fonts    map[string]string `json:"fonts"`
	Texts    map[string]string `json:"texts"`
}

// ParseAssetIndex reads a JSON asset index:
//
//	{"textures": {"hero": "img/hero.png"}, "sounds": {...}, "music": {...},
//	 "fonts": {...}, "texts": {...}}
func ParseAssetIndex(r io.Reader) (*AssetIndex, error) {
	var f assetIndexFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("parse asset index: %w", err)
	}
	x := NewAssetIndex()
	for kind, m := range map[AssetKind]map[string]string{
		AssetTexture: f.Textures,
		AssetSound:   f.Sounds,
		AssetMusic:   f.Music,
		AssetFont:    f.Fonts,
		AssetText:    f.Texts,
	} {
		for name, path := range m {
			if path == "" {
				return nil, configErrorf("asset index: %s %q has no path", kind, name)
			}
			x.Put(kind, name, path)
		}
	}
	return x, nil
}

// LoadAssetIndex reads and parses the index at path in fsys.
func LoadAssetIndex(fsys fs.FS, path string) (*AssetIndex, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open asset index: %w", err)
	}
	defer f.Close()
	return ParseAssetIndex(f)
}
