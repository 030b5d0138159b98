package bedrock

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docker/go-units"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/audio/wav"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/rs/zerolog"
)

// DataOp is the kind of a queued data request.
type DataOp uint8

const (
	DataLoad DataOp = iota
	DataUnload
)

func (o DataOp) String() string {
	if o == DataUnload {
		return "unload"
	}
	return "load"
}

type dataRequest struct {
	op     DataOp
	h      *DataHandler
	ticket uint64
}

type textureUpload struct {
	h    *DataHandler
	gen  uint64
	name string
	img  image.Image
}

// DataOptions configures a DataManager.
type DataOptions struct {
	FS         fs.FS       // asset files; paths in the index are relative to it
	Index      *AssetIndex // nil means an empty index
	SampleRate int         // sounds are resampled to this rate; 0 means 44100
}

// DataManager queues load and unload requests for DataHandlers and carries
// them out on a single loader goroutine.
//
// Requests are stamped with a ticket at submission and processed strictly in
// ticket order across both queues, so load, unload, load of one handler is
// observed in exactly that order.
type DataManager struct {
	rt  *RuntimeState
	log zerolog.Logger

	fsys       fs.FS
	index      *AssetIndex
	sampleRate int

	submitMu sync.Mutex
	seq      uint64
	loads    *Buffer[dataRequest]
	unloads  *Buffer[dataRequest]
	pending  *Condition[int]
	uploads  *Buffer[textureUpload]

	observer atomic.Pointer[func(DataOp, *DataHandler)]
}

// NewDataManager creates a manager. Run must be started on its own goroutine
// before any request can complete.
func NewDataManager(rt *RuntimeState, log zerolog.Logger, opts DataOptions) *DataManager {
	if opts.Index == nil {
		opts.Index = NewAssetIndex()
	}
	if opts.SampleRate == 0 {
		opts.SampleRate = 44100
	}
	return &DataManager{
		rt:         rt,
		log:        component(log, "data"),
		fsys:       opts.FS,
		index:      opts.Index,
		sampleRate: opts.SampleRate,
		loads:      NewBuffer[dataRequest](),
		unloads:    NewBuffer[dataRequest](),
		pending:    NewCondition(rt, 0),
		uploads:    NewBuffer[textureUpload](),
	}
}

// Configure replaces the asset index with the one at path in the asset
// filesystem.
func (dm *DataManager) Configure(path string) error {
	if dm.fsys == nil {
		return fmt.Errorf("%w: no asset filesystem", ErrConfig)
	}
	x, err := LoadAssetIndex(dm.fsys, path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	dm.index.Replace(x)
	dm.log.Info().Str("path", path).Int("entries", x.Len()).Msg("asset index loaded")
	return nil
}

// Index returns the asset index used to resolve names to paths.
func (dm *DataManager) Index() *AssetIndex { return dm.index }

// NewHandler creates an empty, unloaded handler.
func (dm *DataManager) NewHandler(name string) *DataHandler {
	return &DataHandler{
		name:  name,
		id:    uuid.New(),
		dm:    dm,
		state: NewCondition(dm.rt, dataState{}),
	}
}

// SetObserver installs fn to be called on the loader goroutine after each
// request is processed, including skipped ones.
func (dm *DataManager) SetObserver(fn func(DataOp, *DataHandler)) {
	if fn == nil {
		dm.observer.Store(nil)
		return
	}
	dm.observer.Store(&fn)
}

// Load queues h for loading.
func (dm *DataManager) Load(h *DataHandler) uint64 { return dm.submit(DataLoad, h) }

// Unload queues h for unloading.
func (dm *DataManager) Unload(h *DataHandler) uint64 { return dm.submit(DataUnload, h) }

func (dm *DataManager) submit(op DataOp, h *DataHandler) uint64 {
	dm.submitMu.Lock()
	dm.seq++
	req := dataRequest{op: op, h: h, ticket: dm.seq}
	if op == DataLoad {
		dm.loads.Push(req)
	} else {
		dm.unloads.Push(req)
	}
	dm.pending.Update(func(n *int) { *n++ })
	dm.submitMu.Unlock()
	dm.log.Debug().Str("handler", h.name).Stringer("op", op).Uint64("ticket", req.ticket).Msg("queued")
	return req.ticket
}

// IsLoading reports whether requests are queued or in progress.
func (dm *DataManager) IsLoading() bool { return dm.pending.Load() > 0 }

// Clear drops every queued request without processing it. The dropped
// tickets count as processed, so waiters on them are released; a handler
// whose load was dropped stays unloaded.
func (dm *DataManager) Clear() {
	dm.submitMu.Lock()
	var dropped []dataRequest
	for _, q := range []*Buffer[dataRequest]{dm.loads, dm.unloads} {
		for {
			req, ok := q.Pop()
			if !ok {
				break
			}
			dropped = append(dropped, req)
		}
	}
	if len(dropped) > 0 {
		dm.pending.Update(func(p *int) { *p -= len(dropped) })
	}
	dm.submitMu.Unlock()

	for _, req := range dropped {
		req.h.markApplied(req.ticket)
	}
	if len(dropped) > 0 {
		dm.log.Debug().Int("dropped", len(dropped)).Msg("queue cleared")
	}
}

// next pops the queued request with the lowest ticket. It holds submitMu so
// a submission cannot land between the two peeks.
func (dm *DataManager) next() (dataRequest, bool) {
	dm.submitMu.Lock()
	defer dm.submitMu.Unlock()
	l, lok := dm.loads.Peek()
	u, uok := dm.unloads.Peek()
	switch {
	case lok && (!uok || l.ticket < u.ticket):
		return dm.loads.Pop()
	case uok:
		return dm.unloads.Pop()
	}
	return dataRequest{}, false
}

// Run is the loader goroutine body.
func (dm *DataManager) Run(h *ThreadHandler) error {
	if !h.Start() {
		return nil
	}
	h.Running()
	defer h.Closing()
	for h.Good() {
		if _, ok := dm.pending.Wait(func(n int) bool { return n > 0 }); !ok {
			return nil
		}
		if err := dm.ProcessPending(h.Context()); err != nil {
			return err
		}
	}
	return nil
}

// ProcessPending carries out queued requests on the calling goroutine until
// both queues are empty. A decode failure is returned and stops processing.
func (dm *DataManager) ProcessPending(ctx context.Context) error {
	for {
		req, ok := dm.next()
		if !ok {
			return nil
		}
		if err := dm.process(ctx, req); err != nil {
			return err
		}
	}
}

func (dm *DataManager) process(ctx context.Context, req dataRequest) error {
	h := req.h
	var err error
	switch req.op {
	case DataLoad:
		err = dm.load(ctx, h, req.ticket)
	case DataUnload:
		dm.unload(h, req.ticket)
	}
	dm.pending.Update(func(n *int) { *n-- })
	if err != nil {
		return err
	}
	if fn := dm.observer.Load(); fn != nil {
		(*fn)(req.op, h)
	}
	return nil
}

func (dm *DataManager) load(ctx context.Context, h *DataHandler, ticket uint64) error {
	if h.IsLoaded() {
		h.markApplied(ticket)
		dm.log.Debug().Str("handler", h.name).Msg("already loaded")
		return nil
	}
	refs := h.Assets()
	h.state.Update(func(s *dataState) { s.done, s.total = 0, len(refs) })

	start := time.Now()
	d := newDecoded()
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := dm.decode(ref, d); err != nil {
			return fmt.Errorf("load %s: %w", h.name, err)
		}
		h.state.Update(func(s *dataState) { s.done = i + 1 })
	}

	gen := h.install(d)
	for name, img := range d.images {
		dm.uploads.Push(textureUpload{h: h, gen: gen, name: name, img: img})
	}
	h.state.Update(func(s *dataState) {
		s.loaded = true
		s.applied = max(s.applied, ticket)
	})
	dm.log.Info().
		Str("handler", h.name).
		Int("assets", d.count()).
		Str("size", units.HumanSize(float64(d.bytes))).
		Dur("took", time.Since(start)).
		Msg("data loaded")
	return nil
}

func (dm *DataManager) unload(h *DataHandler, ticket uint64) {
	if !h.IsLoaded() {
		h.markApplied(ticket)
		dm.log.Debug().Str("handler", h.name).Msg("not loaded")
		return
	}
	for _, img := range h.release() {
		img.Deallocate()
	}
	h.state.Update(func(s *dataState) {
		s.loaded = false
		s.done, s.total = 0, 0
		s.applied = max(s.applied, ticket)
	})
	dm.log.Info().Str("handler", h.name).Msg("data unloaded")
}

func (dm *DataManager) readAsset(ref AssetRef) ([]byte, error) {
	path, ok := dm.index.Lookup(ref)
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, ErrUnknownAsset)
	}
	if dm.fsys == nil {
		return nil, fmt.Errorf("%s: no asset filesystem", ref)
	}
	b, err := fs.ReadFile(dm.fsys, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref, err)
	}
	return b, nil
}

func (dm *DataManager) decode(ref AssetRef, d *decoded) error {
	b, err := dm.readAsset(ref)
	if err != nil {
		return err
	}
	d.bytes += int64(len(b))
	switch ref.Kind {
	case AssetTexture:
		img, _, err := image.Decode(bytes.NewReader(b))
		if err != nil {
			return fmt.Errorf("decode %s: %w", ref, err)
		}
		d.images[ref.Name] = img
	case AssetSound:
		s, err := wav.DecodeWithSampleRate(dm.sampleRate, bytes.NewReader(b))
		if err != nil {
			return fmt.Errorf("decode %s: %w", ref, err)
		}
		pcm, err := io.ReadAll(s)
		if err != nil {
			return fmt.Errorf("decode %s: %w", ref, err)
		}
		d.sounds[ref.Name] = pcm
	case AssetMusic:
		d.music[ref.Name] = b
	case AssetFont:
		src, err := text.NewGoTextFaceSource(bytes.NewReader(b))
		if err != nil {
			return fmt.Errorf("decode %s: %w", ref, err)
		}
		d.fonts[ref.Name] = src
	case AssetText:
		d.texts[ref.Name] = string(b)
	default:
		return fmt.Errorf("decode %s: unsupported kind", ref)
	}
	return nil
}

// PendingUploads returns the number of decoded textures not yet uploaded.
func (dm *DataManager) PendingUploads() int { return dm.uploads.Len() }

// UploadPending turns up to budget decoded images into textures. A budget of
// zero or less uploads everything queued. It must be called from the render
// goroutine.
func (dm *DataManager) UploadPending(budget int) int {
	n := 0
	for budget <= 0 || n < budget {
		u, ok := dm.uploads.Pop()
		if !ok {
			break
		}
		if u.gen != u.h.generation() {
			continue
		}
		tex := ebiten.NewImageFromImage(u.img)
		if !u.h.putTexture(u.gen, u.name, tex) {
			tex.Deallocate()
			continue
		}
		n++
	}
	return n
}

// WatchIndex reloads the asset index whenever the file at path changes. A
// file that fails to parse is logged and the previous index kept. It returns
// when ctx is done.
func (dm *DataManager) WatchIndex(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch asset index: %w", err)
	}
	defer w.Close()
	// Editors replace files by rename, so watch the directory.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch asset index: %w", err)
	}
	target := filepath.Clean(path)

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			reload = time.After(50 * time.Millisecond)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			dm.log.Warn().Err(err).Msg("asset index watch")
		case <-reload:
			reload = nil
			dm.reloadIndex(path)
		}
	}
}

func (dm *DataManager) reloadIndex(path string) {
	f, err := os.Open(path)
	if err != nil {
		dm.log.Warn().Err(err).Str("path", path).Msg("reload asset index")
		return
	}
	defer f.Close()
	x, err := ParseAssetIndex(f)
	if err != nil {
		dm.log.Warn().Err(err).Str("path", path).Msg("reload asset index")
		return
	}
	dm.index.Replace(x)
	dm.log.Info().Int("entries", x.Len()).Msg("asset index reloaded")
}
