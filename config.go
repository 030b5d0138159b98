package bedrock

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// Config is the startup document. It is read once, before any managed
// goroutine starts.
type Config struct {
	Window      WindowConfig  `json:"window"`
	Audio       AudioConfig   `json:"audio"`
	// Input binds action names to keys. NewApp binds the quit, pause and
	// resume actions to the engine.
	Input       InputMap      `json:"input,omitempty"`
	AssetRoot   string        `json:"asset_root,omitempty"`
	AssetIndex  string        `json:"asset_index,omitempty"`
	// WatchAssets reloads the index from AssetRoot when it changes on disk.
	// It is ignored when AppOptions.FS supplies the assets.
	WatchAssets bool          `json:"watch_assets,omitempty"`
	EntryGroup  string        `json:"entry_group"`
	Global      GroupConfig   `json:"global"`
	Groups      []GroupConfig `json:"groups"`
	Engine      EngineConfig  `json:"engine"`
	LogLevel    string        `json:"log_level,omitempty"`
}

type WindowConfig struct {
	Title  string `json:"title"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type AudioConfig struct {
	SampleRate int `json:"sample_rate"`
}

// EngineConfig tunes the update and render loops.
type EngineConfig struct {
	StackLock LockMode `json:"stack_lock"`
	// TickRate is updates per second; 0 runs the update loop unpaced.
	TickRate float64 `json:"tick_rate"`
	// PauseInterval is the update loop's sleep while paused.
	PauseInterval Duration `json:"pause_interval"`
	// RenderInterval paces the render loop; 0 renders as fast as presenting
	// allows.
	RenderInterval Duration `json:"render_interval"`
	// UploadBudget caps texture uploads per rendered frame; 0 is unlimited.
	UploadBudget int `json:"upload_budget"`
}

// GroupConfig declares one context group.
type GroupConfig struct {
	Name       string          `json:"name"`
	EntryPoint string          `json:"entry_point,omitempty"`
	LoadScreen string          `json:"load_screen,omitempty"`
	Contexts   []ContextConfig `json:"contexts"`
	Assets     []AssetRef      `json:"assets,omitempty"`
}

// ContextConfig declares one context. Type selects the Registry factory;
// Options is passed through untouched.
type ContextConfig struct {
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	Overrides bool            `json:"overrides,omitempty"`
	Pauseable bool            `json:"pauseable,omitempty"`
	Options   json.RawMessage `json:"options,omitempty"`
}

// Base returns the ContextBase described by c, owned by g.
func (c ContextConfig) Base(g *ContextGroup) *ContextBase {
	return NewContextBase(c.Name, g, ContextOptions{Overrides: c.Overrides, Pauseable: c.Pauseable})
}

// Duration reads either a Go duration string ("250ms") or a number of
// milliseconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	ms, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("duration %s: %w", b, err)
	}
	*d = Duration(ms * float64(time.Millisecond))
	return nil
}

// DefaultConfig returns the values used for fields a document leaves unset.
func DefaultConfig() Config {
	return Config{
		Window: WindowConfig{Title: "bedrock", Width: 640, Height: 480},
		Audio:  AudioConfig{SampleRate: 44100},
		Engine: EngineConfig{
			StackLock:     LockMutex,
			TickRate:      60,
			PauseInterval: Duration(100 * time.Millisecond),
			UploadBudget:  4,
		},
		LogLevel: "info",
	}
}

// LoadConfig decodes a JSON document over DefaultConfig and validates it.
// Unknown fields are rejected.
func LoadConfig(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config: %w", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseConfig is LoadConfig over a byte slice.
func ParseConfig(data []byte) (*Config, error) { return LoadConfig(bytes.NewReader(data)) }

// LoadConfigFile reads the config at path.
func LoadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	defer f.Close()
	return LoadConfig(f)
}

// Validate reports the first structural problem in the document.
func (c *Config) Validate() error {
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		return configErrorf("window size %dx%d", c.Window.Width, c.Window.Height)
	}
	if c.Audio.SampleRate <= 0 {
		return configErrorf("audio sample rate %d", c.Audio.SampleRate)
	}
	if c.Engine.TickRate < 0 {
		return configErrorf("tick rate %v", c.Engine.TickRate)
	}
	if c.Engine.PauseInterval < 0 || c.Engine.RenderInterval < 0 {
		return configErrorf("negative engine interval")
	}
	if c.Engine.UploadBudget < 0 {
		return configErrorf("upload budget %d", c.Engine.UploadBudget)
	}
	if c.EntryGroup == "" {
		return configErrorf("no entry group")
	}
	if err := c.Global.validate(); err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, g := range c.Groups {
		if g.Name == "" || g.Name == GlobalGroupName {
			return configErrorf("invalid group name %q", g.Name)
		}
		if seen[g.Name] {
			return configErrorf("group %q defined twice", g.Name)
		}
		seen[g.Name] = true
		if err := g.validate(); err != nil {
			return err
		}
	}
	if !seen[c.EntryGroup] {
		return configErrorf("entry group %q is not defined", c.EntryGroup)
	}
	for _, g := range c.Groups {
		if g.Name == c.EntryGroup && g.EntryPoint == "" {
			return configErrorf("entry group %q has no entry point", g.Name)
		}
	}
	if c.WatchAssets && c.AssetIndex == "" {
		return configErrorf("watch_assets needs asset_index")
	}
	return nil
}

func (g GroupConfig) validate() error {
	names := map[string]bool{}
	for _, cc := range g.Contexts {
		if cc.Name == "" || cc.Type == "" {
			return configErrorf("group %q: context needs a name and a type", g.Name)
		}
		if names[cc.Name] {
			return configErrorf("group %q: context %q defined twice", g.Name, cc.Name)
		}
		names[cc.Name] = true
	}
	if g.EntryPoint != "" && !names[g.EntryPoint] {
		return configErrorf("group %q: entry point %q is not one of its contexts", g.Name, g.EntryPoint)
	}
	return nil
}
