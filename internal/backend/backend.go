package backend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
)

// Variant names one loaded model pipeline.
type Variant string

const (
	VariantSDXLBase  Variant = "sdxl_base"
	VariantSDXLTurbo Variant = "sdxl_turbo"
	VariantLCM       Variant = "lcm"
)

// Quality tiers control step count and variant choice.
const (
	QualityFast     = "fast"
	QualityStandard = "standard"
	QualityHigh     = "high"
	QualityUltra    = "ultra"
)

// QualitySetting holds the inference parameters for one quality tier.
type QualitySetting struct {
	Steps         int
	GuidanceScale float64
}

// qualitySettings maps tiers to inference parameters. Unknown tiers fall back
// to standard.
var qualitySettings = map[string]QualitySetting{
	QualityFast:     {Steps: 4, GuidanceScale: 2.0},
	QualityStandard: {Steps: 20, GuidanceScale: 7.5},
	QualityHigh:     {Steps: 30, GuidanceScale: 7.5},
	QualityUltra:    {Steps: 50, GuidanceScale: 8.0},
}

// SettingsFor returns the inference parameters for a quality tier.
func SettingsFor(quality string) QualitySetting {
	if s, ok := qualitySettings[quality]; ok {
		return s
	}
	return qualitySettings[QualityStandard]
}

// variantPreference is the ordered quality→variant table. New tiers are
// additive entries, not new branches.
var variantPreference = map[string][]Variant{
	QualityFast:     {VariantLCM, VariantSDXLTurbo, VariantSDXLBase},
	QualityStandard: {VariantSDXLTurbo, VariantSDXLBase},
	QualityHigh:     {VariantSDXLBase},
	QualityUltra:    {VariantSDXLBase},
}

// ─────────────────────────────────────────────
// Generator: the opaque inference collaborator
// ─────────────────────────────────────────────

// GenerateParams carries everything the inference backend needs for one image.
type GenerateParams struct {
	DeviceID       string
	Variant        Variant
	Prompt         string
	NegativePrompt string
	Steps          int
	GuidanceScale  float64
	Width          int
	Height         int
	Seed           int64 // 0 = unseeded
}

// Generator produces image bytes from generation parameters. Implementations
// wrap the actual diffusion runtime and are treated as opaque here.
type Generator interface {
	Generate(ctx context.Context, params GenerateParams) ([]byte, error)

	// LoadPipeline and UnloadPipeline manage model residency per device.
	LoadPipeline(ctx context.Context, deviceID string, variant Variant) error
	UnloadPipeline(ctx context.Context, deviceID string, variant Variant) error
}

// ─────────────────────────────────────────────
// Selector: variant residency + choice
// ─────────────────────────────────────────────

// ErrNoVariantLoaded means a device has no pipeline loaded at all.
var ErrNoVariantLoaded = errors.New("no model variant loaded on device")

// Selector tracks which variants are resident on each device and picks the
// best one for a requested quality tier.
type Selector struct {
	mu     sync.RWMutex
	loaded map[string][]Variant // deviceID → variants in load order
	gen    Generator
}

// NewSelector creates a Selector over the given Generator.
func NewSelector(gen Generator) *Selector {
	return &Selector{
		loaded: make(map[string][]Variant),
		gen:    gen,
	}
}

// LoadOnDevice loads the given variants onto a device, recording residency.
// Partial failure is tolerated: a device is usable with any loaded variant.
func (s *Selector) LoadOnDevice(ctx context.Context, deviceID string, variants ...Variant) error {
	var lastErr error
	for _, v := range variants {
		if err := s.gen.LoadPipeline(ctx, deviceID, v); err != nil {
			log.Printf("[backend] load %s on device %s failed: %v", v, deviceID, err)
			lastErr = err
			continue
		}
		s.mu.Lock()
		s.loaded[deviceID] = append(s.loaded[deviceID], v)
		s.mu.Unlock()
		log.Printf("[backend] loaded %s on device %s", v, deviceID)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.loaded[deviceID]) == 0 {
		if lastErr != nil {
			return fmt.Errorf("no variant loaded on device %s: %w", deviceID, lastErr)
		}
		return ErrNoVariantLoaded
	}
	return nil
}

// UnloadDevice removes all pipelines from a device.
func (s *Selector) UnloadDevice(ctx context.Context, deviceID string) {
	s.mu.Lock()
	variants := s.loaded[deviceID]
	delete(s.loaded, deviceID)
	s.mu.Unlock()

	for _, v := range variants {
		if err := s.gen.UnloadPipeline(ctx, deviceID, v); err != nil {
			log.Printf("[backend] unload %s from device %s failed: %v", v, deviceID, err)
		}
	}
}

// SelectModel picks the preferred loaded variant for a quality tier, falling
// back to any loaded variant rather than failing the request.
func (s *Selector) SelectModel(deviceID, quality string) (Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loaded := s.loaded[deviceID]
	if len(loaded) == 0 {
		return "", ErrNoVariantLoaded
	}

	prefs, ok := variantPreference[quality]
	if !ok {
		prefs = variantPreference[QualityStandard]
	}
	for _, want := range prefs {
		for _, have := range loaded {
			if have == want {
				return want, nil
			}
		}
	}

	// Last resort: any loaded variant beats refusing the request.
	return loaded[0], nil
}

// Loaded reports the variants resident on a device, in load order.
func (s *Selector) Loaded(deviceID string) []Variant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Variant, len(s.loaded[deviceID]))
	copy(out, s.loaded[deviceID])
	return out
}

// ParseSize splits "512x512" into width and height.
func ParseSize(size string) (int, int, error) {
	w, h, found := strings.Cut(size, "x")
	if !found {
		return 0, 0, fmt.Errorf("invalid size %q (expected WxH)", size)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid width in %q: %w", size, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid height in %q: %w", size, err)
	}
	return width, height, nil
}
