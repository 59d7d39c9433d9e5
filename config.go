package omx

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds everything omxpipe needs for one run.
type Config struct {
	Platform   PlatformConfig   `yaml:"platform"`
	Scenario   string           `yaml:"scenario"` // decode, encode, resize, decode-resize, read
	Components ComponentsConfig `yaml:"components"`
	Input      InputConfig      `yaml:"input"`
	Output     OutputConfig     `yaml:"output"`
	Sink       SinkConfig       `yaml:"sink"`
	Timeouts   Timeouts         `yaml:"timeouts"`
	Log        LogConfig        `yaml:"log"`
}

// PlatformConfig selects the OpenMAX IL core.
type PlatformConfig struct {
	Type    string `yaml:"type"`    // auto, native, sim
	Library string `yaml:"library"` // Path to libopenmaxil.so
}

// ComponentsConfig overrides component names.
type ComponentsConfig struct {
	Decoder string `yaml:"decoder"`
	Encoder string `yaml:"encoder"`
	Resizer string `yaml:"resizer"`
	Reader  string `yaml:"reader"`
}

// InputConfig describes the source.
type InputConfig struct {
	Path    string `yaml:"path"`    // File to read; empty generates a pattern
	Pattern string `yaml:"pattern"` // gradient, colorbars, checkerboard
	Size    string `yaml:"size"`    // Raw input size, 640x480
	Color   string `yaml:"color"`   // Raw input color format
	Stride  int    `yaml:"stride"`
	Coding  string `yaml:"coding"` // Compressed input coding: jpeg, png, gif, jpeg2000
}

// OutputConfig describes what the pipeline produces.
type OutputConfig struct {
	Size    string     `yaml:"size"`
	Color   string     `yaml:"color"`
	Crop    CropConfig `yaml:"crop"`
	Mode    string     `yaml:"mode"`   // stretch, fit, fill
	Coding  string     `yaml:"coding"` // Encoder output coding
	Quality int        `yaml:"quality"`
}

// CropConfig is a source rectangle.
type CropConfig struct {
	Left   int32  `yaml:"left"`
	Top    int32  `yaml:"top"`
	Width  uint32 `yaml:"width"`
	Height uint32 `yaml:"height"`
}

// SinkConfig selects where output goes.
type SinkConfig struct {
	Type        string `yaml:"type"` // file, rtp
	Path        string `yaml:"path"`
	Address     string `yaml:"address"`
	PayloadType uint8  `yaml:"payload_type"`
	MTU         int    `yaml:"mtu"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json
}

// DefaultConfig returns the configuration used without a file.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig loads configuration from a YAML file. Environment variables in
// the file are expanded.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration and fills in defaults.
func ParseConfig(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Platform.Type == "" {
		c.Platform.Type = "auto"
	}
	if c.Scenario == "" {
		c.Scenario = "decode"
	}
	if c.Components.Decoder == "" {
		c.Components.Decoder = ImageDecodeName
	}
	if c.Components.Encoder == "" {
		c.Components.Encoder = ImageEncodeName
	}
	if c.Components.Resizer == "" {
		c.Components.Resizer = ResizeName
	}
	if c.Components.Reader == "" {
		c.Components.Reader = ImageReadName
	}
	if c.Input.Size == "" {
		c.Input.Size = "640x480"
	}
	if c.Input.Color == "" {
		c.Input.Color = Color24bitBGR888.String()
	}
	if c.Input.Coding == "" {
		c.Input.Coding = "jpeg"
	}
	if c.Output.Coding == "" {
		c.Output.Coding = "jpeg"
	}
	if c.Output.Quality == 0 {
		c.Output.Quality = simDefaultQuality
	}
	if c.Sink.Type == "" {
		c.Sink.Type = "file"
	}
	if c.Sink.Path == "" {
		c.Sink.Path = "out.data"
	}
	if c.Sink.MTU == 0 {
		c.Sink.MTU = DefaultMTU
	}
	if c.Sink.PayloadType == 0 {
		c.Sink.PayloadType = DefaultRTPPayloadType
	}
	c.Timeouts = c.Timeouts.withDefaults()
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// ParseSize parses "WIDTHxHEIGHT". An empty string is 0x0.
func ParseSize(s string) (w, h int, err error) {
	if s == "" {
		return 0, 0, nil
	}
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q, want WIDTHxHEIGHT", s)
	}
	if w, err = strconv.Atoi(ws); err != nil || w < 0 {
		return 0, 0, fmt.Errorf("invalid width in %q", s)
	}
	if h, err = strconv.Atoi(hs); err != nil || h < 0 {
		return 0, 0, fmt.Errorf("invalid height in %q", s)
	}
	return w, h, nil
}

// ParseImageCoding resolves a coding name.
func ParseImageCoding(s string) (ImageCoding, error) {
	switch strings.ToLower(s) {
	case "jpeg", "jpg":
		return CodingJPEG, nil
	case "jpeg2000", "jpeg2k", "jp2", "j2k":
		return CodingJPEG2K, nil
	case "png":
		return CodingPNG, nil
	case "gif":
		return CodingGIF, nil
	case "auto", "autodetect":
		return CodingAutoDetect, nil
	}
	return CodingUnused, fmt.Errorf("unknown image coding %q", s)
}

func parsePattern(s string) (PatternType, error) {
	switch strings.ToLower(s) {
	case "", "gradient":
		return PatternGradient, nil
	case "colorbars":
		return PatternColorBars, nil
	case "checkerboard":
		return PatternCheckerboard, nil
	}
	return PatternGradient, fmt.Errorf("unknown pattern %q", s)
}

// InputGeometry returns the raw input layout.
func (c *Config) InputGeometry() (Geometry, error) {
	w, h, err := ParseSize(c.Input.Size)
	if err != nil {
		return Geometry{}, err
	}
	color, err := ParseColorFormat(c.Input.Color)
	if err != nil {
		return Geometry{}, err
	}
	return Geometry{Width: w, Height: h, Stride: c.Input.Stride, Color: color}, nil
}

// OutputGeometry returns the raw output layout. Unset fields are zero.
func (c *Config) OutputGeometry() (Geometry, error) {
	w, h, err := ParseSize(c.Output.Size)
	if err != nil {
		return Geometry{}, err
	}
	g := Geometry{Width: w, Height: h}
	if c.Output.Color != "" {
		if g.Color, err = ParseColorFormat(c.Output.Color); err != nil {
			return Geometry{}, err
		}
	}
	return g, nil
}

func (c *Config) crop() Crop {
	return Crop{Left: c.Output.Crop.Left, Top: c.Output.Crop.Top, Width: c.Output.Crop.Width, Height: c.Output.Crop.Height}
}

// Runner is a configured scenario.
type Runner interface {
	Run(ctx context.Context, src Source, sink Sink) (*Result, error)
}

type readRunner struct{ *Read }

func (r readRunner) Run(ctx context.Context, _ Source, sink Sink) (*Result, error) {
	return r.Read.Run(ctx, sink)
}

// NeedsSource reports whether the scenario reads user input.
func (c *Config) NeedsSource() bool { return c.Scenario != "read" }

// RawInput reports whether the scenario's input is a raw image.
func (c *Config) RawInput() bool { return c.Scenario == "encode" || c.Scenario == "resize" }

// Runner builds the configured scenario.
func (c *Config) Runner(o Options) (Runner, error) {
	o.Timeouts = c.Timeouts
	in, err := c.InputGeometry()
	if err != nil {
		return nil, err
	}
	out, err := c.OutputGeometry()
	if err != nil {
		return nil, err
	}

	switch c.Scenario {
	case "decode":
		coding, err := ParseImageCoding(c.Input.Coding)
		if err != nil {
			return nil, err
		}
		return &Decode{Options: o, Component: c.Components.Decoder, Coding: coding, Color: out.Color}, nil
	case "encode":
		coding, err := ParseImageCoding(c.Output.Coding)
		if err != nil {
			return nil, err
		}
		return &Encode{Options: o, Component: c.Components.Encoder, Input: in, Coding: coding, Quality: c.Output.Quality}, nil
	case "resize":
		mode, err := ParseScaleMode(c.Output.Mode)
		if err != nil {
			return nil, err
		}
		return &Resize{Options: o, Component: c.Components.Resizer, Input: in, Output: out, Crop: c.crop(), Mode: mode}, nil
	case "decode-resize":
		coding, err := ParseImageCoding(c.Input.Coding)
		if err != nil {
			return nil, err
		}
		return &DecodeResize{Options: o, Decoder: c.Components.Decoder, Resizer: c.Components.Resizer,
			Coding: coding, Output: out, Crop: c.crop()}, nil
	case "read":
		if c.Input.Path == "" {
			return nil, fmt.Errorf("scenario read needs input.path")
		}
		return readRunner{&Read{Options: o, Component: c.Components.Reader, URI: c.Input.Path}}, nil
	}
	return nil, fmt.Errorf("unknown scenario %q", c.Scenario)
}

// OpenSource opens the input file, or renders a test pattern for raw
// scenarios without one.
func (c *Config) OpenSource() (Source, error) {
	if c.Input.Path != "" {
		return OpenFileSource(c.Input.Path)
	}
	if !c.RawInput() {
		return nil, fmt.Errorf("scenario %s needs input.path", c.Scenario)
	}
	g, err := c.InputGeometry()
	if err != nil {
		return nil, err
	}
	pattern, err := parsePattern(c.Input.Pattern)
	if err != nil {
		return nil, err
	}
	return NewPatternSource(PatternConfig{Width: g.Width, Height: g.Height, Stride: g.Stride, Color: g.Color, Pattern: pattern})
}

// OpenSink creates the configured sink.
func (c *Config) OpenSink() (Sink, error) {
	switch c.Sink.Type {
	case "file":
		return CreateFileSink(c.Sink.Path)
	case "rtp":
		return NewRTPSink(RTPSinkConfig{Address: c.Sink.Address, PayloadType: c.Sink.PayloadType, MTU: c.Sink.MTU})
	}
	return nil, fmt.Errorf("unknown sink type %q", c.Sink.Type)
}
