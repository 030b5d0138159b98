package bedrock

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// wavBytes builds a 16-bit stereo PCM file of silence.
func wavBytes(rate, frames int) []byte {
	data := frames * 4
	var buf bytes.Buffer
	le := func(v any) { _ = binary.Write(&buf, binary.LittleEndian, v) }
	buf.WriteString("RIFF")
	le(uint32(36 + data))
	buf.WriteString("WAVEfmt ")
	le(uint32(16))
	le(uint16(1)) // PCM
	le(uint16(2))
	le(uint32(rate))
	le(uint32(rate * 4))
	le(uint16(4))
	le(uint16(16))
	buf.WriteString("data")
	le(uint32(data))
	buf.Write(make([]byte, data))
	return buf.Bytes()
}

func newTestData(t *testing.T) (*DataManager, *DataHandler) {
	t.Helper()
	fsys := fstest.MapFS{
		"img/hero.png":  {Data: pngBytes(t, 4, 2)},
		"img/bad.png":   {Data: []byte("not a png")},
		"snd/beep.wav":  {Data: wavBytes(44100, 64)},
		"mus/theme.ogg": {Data: []byte("OggS")},
		"txt/intro.txt": {Data: []byte("hello")},
	}
	x := NewAssetIndex()
	x.Put(AssetTexture, "hero", "img/hero.png")
	x.Put(AssetTexture, "bad", "img/bad.png")
	x.Put(AssetSound, "beep", "snd/beep.wav")
	x.Put(AssetMusic, "theme", "mus/theme.ogg")
	x.Put(AssetText, "intro", "txt/intro.txt")

	rt := NewRuntimeState()
	t.Cleanup(rt.Quit)
	dm := NewDataManager(rt, zerolog.Nop(), DataOptions{FS: fsys, Index: x})
	h := dm.NewHandler("level")
	h.Require(
		AssetRef{Kind: AssetTexture, Name: "hero"},
		AssetRef{Kind: AssetSound, Name: "beep"},
		AssetRef{Kind: AssetMusic, Name: "theme"},
		AssetRef{Kind: AssetText, Name: "intro"},
	)
	return dm, h
}

// --- Loading ---

func TestDataManager_LoadDecodesAssets(t *testing.T) {
	dm, h := newTestData(t)
	ticket := h.Load()
	assert.True(t, dm.IsLoading())
	assert.False(t, h.IsLoaded())

	require.NoError(t, dm.ProcessPending(context.Background()))
	assert.False(t, dm.IsLoading())
	assert.True(t, h.IsLoaded())
	assert.True(t, h.Wait(ticket))
	assert.Equal(t, 1.0, h.Progress())

	img, ok := h.Image("hero")
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 4, 2), img.Bounds())
	pcm, ok := h.Sound("beep")
	require.True(t, ok)
	assert.NotEmpty(t, pcm)
	m, ok := h.Music("theme")
	require.True(t, ok)
	assert.Equal(t, []byte("OggS"), m)
	s, ok := h.Text("intro")
	require.True(t, ok)
	assert.Equal(t, "hello", s)
}

func TestDataManager_RequireIsDeduplicated(t *testing.T) {
	_, h := newTestData(t)
	n := len(h.Assets())
	h.Require(AssetRef{Kind: AssetText, Name: "intro"})
	assert.Len(t, h.Assets(), n)
}

func TestDataManager_TexturesUploadOnRender(t *testing.T) {
	dm, h := newTestData(t)
	h.Load()
	require.NoError(t, dm.ProcessPending(context.Background()))

	_, ok := h.Texture("hero")
	assert.False(t, ok, "not uploaded yet")
	assert.Equal(t, 1, dm.PendingUploads())

	assert.Equal(t, 1, dm.UploadPending(4))
	tex, ok := h.Texture("hero")
	require.True(t, ok)
	assert.Equal(t, 4, tex.Bounds().Dx())
	assert.Equal(t, []string{"hero"}, h.TextureNames())
}

func TestDataManager_StaleUploadDropped(t *testing.T) {
	dm, h := newTestData(t)
	h.Load()
	h.Unload()
	require.NoError(t, dm.ProcessPending(context.Background()))

	assert.Equal(t, 0, dm.UploadPending(0))
	assert.Equal(t, 0, dm.PendingUploads())
	_, ok := h.Texture("hero")
	assert.False(t, ok)
}

func TestDataManager_UnloadReleasesAssets(t *testing.T) {
	dm, h := newTestData(t)
	h.Load()
	require.NoError(t, dm.ProcessPending(context.Background()))
	dm.UploadPending(0)

	h.Unload()
	require.NoError(t, dm.ProcessPending(context.Background()))
	assert.False(t, h.IsLoaded())
	_, ok := h.Texture("hero")
	assert.False(t, ok)
	_, ok = h.Text("intro")
	assert.False(t, ok)
	assert.Equal(t, 0.0, h.Progress())
}

func TestDataManager_UnknownAsset(t *testing.T) {
	dm, _ := newTestData(t)
	h := dm.NewHandler("broken")
	h.Require(AssetRef{Kind: AssetFont, Name: "missing"})
	h.Load()
	err := dm.ProcessPending(context.Background())
	assert.ErrorIs(t, err, ErrUnknownAsset)
	assert.False(t, h.IsLoaded())
}

func TestDataManager_DecodeFailure(t *testing.T) {
	dm, _ := newTestData(t)
	h := dm.NewHandler("broken")
	h.Require(AssetRef{Kind: AssetTexture, Name: "bad"})
	h.Load()
	err := dm.ProcessPending(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "texture:bad")
}

// --- Ordering ---

func TestDataManager_RequestsProcessedInSubmissionOrder(t *testing.T) {
	dm, h := newTestData(t)
	var ops []DataOp
	dm.SetObserver(func(op DataOp, got *DataHandler) {
		assert.Same(t, h, got)
		ops = append(ops, op)
	})

	h.Load()
	h.Unload()
	h.Load()
	require.NoError(t, dm.ProcessPending(context.Background()))

	assert.Equal(t, []DataOp{DataLoad, DataUnload, DataLoad}, ops)
	assert.True(t, h.IsLoaded(), "last request wins")
}

func TestDataManager_RedundantRequestsSkipped(t *testing.T) {
	dm, h := newTestData(t)
	var n int
	dm.SetObserver(func(DataOp, *DataHandler) { n++ })

	u := h.Unload() // not loaded
	h.Load()
	l := h.Load() // already loaded
	require.NoError(t, dm.ProcessPending(context.Background()))

	assert.Equal(t, 3, n, "skipped requests are still observed")
	assert.True(t, h.Wait(u))
	assert.True(t, h.Wait(l))
	assert.Equal(t, 1, dm.PendingUploads(), "second load did not decode again")
}

func TestDataManager_ConcurrentSubmissionsPopInTicketOrder(t *testing.T) {
	dm, _ := newTestData(t)
	h := dm.NewHandler("empty")
	const pairs = 20000

	go func() {
		for range pairs {
			h.Load()
			h.Unload()
		}
	}()

	var last uint64
	for seen := 0; seen < 2*pairs; {
		req, ok := dm.next()
		if !ok {
			continue
		}
		require.Greater(t, req.ticket, last, "popped out of submission order")
		last = req.ticket
		seen++
	}
}

func TestDataManager_ConcurrentLoadUnloadEndsWithLastRequest(t *testing.T) {
	dm, _ := newTestData(t)
	h := dm.NewHandler("empty")
	m := NewThreadManager(dm.rt, zerolog.Nop())
	require.NoError(t, m.Register(ThreadDataLoader, dm.Run))
	require.NoError(t, m.StartAll())

	var wg sync.WaitGroup
	last := make(chan uint64, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		var u uint64
		for range 2000 {
			h.Load()
			u = h.Unload()
		}
		last <- u
	}()
	wg.Wait()

	assert.True(t, h.Wait(<-last))
	assert.False(t, h.IsLoaded(), "an unload was the last request")
	require.Eventually(t, func() bool { return !dm.IsLoading() }, 3*time.Second, time.Millisecond)

	dm.rt.Quit()
	require.NoError(t, m.Join())
}

// --- Clear ---

func TestDataManager_Clear(t *testing.T) {
	dm, h := newTestData(t)
	l := h.Load()
	u := h.Unload()
	dm.Clear()
	assert.False(t, dm.IsLoading())
	assert.True(t, h.Wait(l), "dropped tickets release their waiters")
	assert.True(t, h.Wait(u))
	require.NoError(t, dm.ProcessPending(context.Background()))
	assert.False(t, h.IsLoaded())
}

func TestDataManager_ClearWhileLoaderRuns(t *testing.T) {
	dm, _ := newTestData(t)
	h := dm.NewHandler("empty")
	m := NewThreadManager(dm.rt, zerolog.Nop())
	require.NoError(t, m.Register(ThreadDataLoader, dm.Run))
	require.NoError(t, m.StartAll())

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				h.Load()
				h.Unload()
			}
		}
	}()
	for range 2000 {
		dm.Clear()
		require.GreaterOrEqual(t, dm.pending.Load(), 0)
	}
	close(stop)
	wg.Wait()

	// The loader must still be serving requests.
	ticket := h.Load()
	require.Eventually(t, func() bool { return h.waitFor(ticket, time.Millisecond) }, 3*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return !dm.IsLoading() }, 3*time.Second, time.Millisecond)
	assert.Equal(t, 0, dm.pending.Load())
	assert.True(t, h.IsLoaded())

	dm.rt.Quit()
	require.NoError(t, m.Join())
}

func TestDataManager_RunServesWaiters(t *testing.T) {
	dm, h := newTestData(t)
	m := NewThreadManager(dm.rt, zerolog.Nop())
	require.NoError(t, m.Register(ThreadDataLoader, dm.Run))
	require.NoError(t, m.StartAll())

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, h.Wait(h.Load()))
		}()
	}
	wg.Wait()
	assert.True(t, h.IsLoaded())

	dm.rt.Quit()
	require.NoError(t, m.Join())
}

func TestDataManager_QuitReleasesWait(t *testing.T) {
	dm, h := newTestData(t)
	ticket := h.Load() // nobody processes it
	go func() {
		time.Sleep(10 * time.Millisecond)
		dm.rt.Quit()
	}()
	assert.False(t, h.Wait(ticket))
}

// --- Asset index hot reload ---

func TestDataManager_WatchIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "assets.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"texts": {"a": "a.txt"}}`), 0o644))

	dm, _ := newTestData(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dm.WatchIndex(ctx, path) }()
	time.Sleep(50 * time.Millisecond) // let the watcher attach

	require.NoError(t, os.WriteFile(path, []byte(`{"texts": {"a": "a.txt", "b": "b.txt"}}`), 0o644))
	require.Eventually(t, func() bool { return dm.Index().Len() == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, dm.Index().Names(AssetText))

	// A broken file keeps the previous index.
	require.NoError(t, os.WriteFile(path, []byte(`{"texts": `), 0o644))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 2, dm.Index().Len())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestDataManager_Configure(t *testing.T) {
	rt := NewRuntimeState()
	fsys := fstest.MapFS{"assets.json": {Data: []byte(`{"texts": {"intro": "intro.txt"}}`)}}
	dm := NewDataManager(rt, zerolog.Nop(), DataOptions{FS: fsys})
	require.NoError(t, dm.Configure("assets.json"))
	assert.Equal(t, []string{"intro"}, dm.Index().Names(AssetText))

	assert.ErrorIs(t, dm.Configure("missing.json"), ErrConfig)
	assert.ErrorIs(t, NewDataManager(rt, zerolog.Nop(), DataOptions{}).Configure("x"), ErrConfig)
}
