package bedrock

import (
	"image"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
)

// dataState is the part of a DataHandler that waiters care about.
type dataState struct {
	loaded  bool
	applied uint64 // ticket of the last processed request
	done    int
	total   int
}

// DataHandler owns the decoded assets of one context group. Load and unload
// are carried out by the DataManager's loader goroutine; any goroutine may
// query it.
type DataHandler struct {
	name string
	id   uuid.UUID
	dm   *DataManager

	state *Condition[dataState]

	mu       sync.RWMutex
	required []AssetRef
	gen      uint64 // bumped on unload; stale texture uploads are dropped
	textures map[string]*ebiten.Image
	images   map[string]image.Image
	sounds   map[string][]byte
	music    map[string][]byte
	fonts    map[string]*text.GoTextFaceSource
	texts    map[string]string
}

func (h *DataHandler) Name() string  { return h.name }
func (h *DataHandler) ID() uuid.UUID { return h.id }

// Require adds assets to the set loaded by the next Load.
func (h *DataHandler) Require(refs ...AssetRef) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range refs {
		if !slices.Contains(h.required, r) {
			h.required = append(h.required, r)
		}
	}
}

// Assets returns the required asset set.
func (h *DataHandler) Assets() []AssetRef {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.required)
}

// Load queues the handler for loading and returns the request ticket.
func (h *DataHandler) Load() uint64 { return h.dm.Load(h) }

// Unload queues the handler for unloading and returns the request ticket.
func (h *DataHandler) Unload() uint64 { return h.dm.Unload(h) }

// IsLoaded reports whether the last processed request was a load.
func (h *DataHandler) IsLoaded() bool { return h.state.Load().loaded }

// Progress returns the fraction of required assets decoded by the current
// or last load.
func (h *DataHandler) Progress() float64 {
	st := h.state.Load()
	switch {
	case st.loaded:
		return 1
	case st.total == 0:
		return 0
	}
	return float64(st.done) / float64(st.total)
}

// Wait blocks until the request with the given ticket has been processed.
// It returns false if the run shut down first.
func (h *DataHandler) Wait(ticket uint64) bool {
	_, ok := h.state.Wait(func(s dataState) bool { return s.applied >= ticket })
	return ok
}

// Texture returns a texture once it has been uploaded by the render
// goroutine.
func (h *DataHandler) Texture(name string) (*ebiten.Image, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	img, ok := h.textures[name]
	return img, ok
}

// Image returns the decoded source image of a texture.
func (h *DataHandler) Image(name string) (image.Image, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	img, ok := h.images[name]
	return img, ok
}

// Sound returns decoded PCM: 16-bit little-endian stereo at the configured
// sample rate.
func (h *DataHandler) Sound(name string) ([]byte, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	b, ok := h.sounds[name]
	return b, ok
}

// Music returns the encoded stream bytes, decoded at playback time.
func (h *DataHandler) Music(name string) ([]byte, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	b, ok := h.music[name]
	return b, ok
}

// Font returns a decoded font source.
func (h *DataHandler) Font(name string) (*text.GoTextFaceSource, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	f, ok := h.fonts[name]
	return f, ok
}

// Text returns a loaded text asset.
func (h *DataHandler) Text(name string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.texts[name]
	return s, ok
}

// TextureNames lists uploaded textures.
func (h *DataHandler) TextureNames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Sorted(maps.Keys(h.textures))
}

// decoded holds the output of one load, assembled outside any lock.
type decoded struct {
	images map[string]image.Image
	sounds map[string][]byte
	music  map[string][]byte
	fonts  map[string]*text.GoTextFaceSource
	texts  map[string]string
	bytes  int64
}

func newDecoded() *decoded {
	return &decoded{
		images: map[string]image.Image{},
		sounds: map[string][]byte{},
		music:  map[string][]byte{},
		fonts:  map[string]*text.GoTextFaceSource{},
		texts:  map[string]string{},
	}
}

func (d *decoded) count() int {
	return len(d.images) + len(d.sounds) + len(d.music) + len(d.fonts) + len(d.texts)
}

// install swaps in freshly decoded assets and returns the generation the
// pending texture uploads belong to.
func (h *DataHandler) install(d *decoded) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.images = d.images
	h.textures = make(map[string]*ebiten.Image, len(d.images))
	h.sounds = d.sounds
	h.music = d.music
	h.fonts = d.fonts
	h.texts = d.texts
	return h.gen
}

// release drops every asset and returns the textures to deallocate.
func (h *DataHandler) release() []*ebiten.Image {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gen++
	imgs := slices.Collect(maps.Values(h.textures))
	h.textures, h.images = nil, nil
	h.sounds, h.music, h.fonts, h.texts = nil, nil, nil, nil
	return imgs
}

// putTexture stores an uploaded texture unless the handler was unloaded
// since the upload was queued.
func (h *DataHandler) putTexture(gen uint64, name string, img *ebiten.Image) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if gen != h.gen || h.textures == nil {
		return false
	}
	h.textures[name] = img
	return true
}

func (h *DataHandler) generation() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.gen
}

// markApplied records ticket as processed. Tickets only move forward.
func (h *DataHandler) markApplied(ticket uint64) {
	h.state.Update(func(s *dataState) { s.applied = max(s.applied, ticket) })
}

// waitFor is Wait bounded by timeout.
func (h *DataHandler) waitFor(ticket uint64, timeout time.Duration) bool {
	_, ok := h.state.WaitFor(func(s dataState) bool { return s.applied >= ticket }, timeout)
	return ok
}

func (h *DataHandler) counts() (done, total int) {
	st := h.state.Load()
	return st.done, st.total
}
