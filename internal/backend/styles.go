package backend

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StylePreset shapes a prompt for one named visual style.
type StylePreset struct {
	Name     string `yaml:"name"`
	Prefix   string `yaml:"prefix"`
	Suffix   string `yaml:"suffix"`
	Negative string `yaml:"negative"`
}

// defaultStyles ships the built-in presets. A YAML file may replace or extend
// them via LoadStyles.
var defaultStyles = map[string]StylePreset{
	"realistic": {
		Name:     "Realistic",
		Prefix:   "photorealistic, highly detailed",
		Suffix:   "8k, sharp focus, professional photography",
		Negative: "cartoon, anime, painting, drawing, blurry, low quality",
	},
	"anime": {
		Name:     "Anime",
		Prefix:   "anime style, vibrant colors",
		Suffix:   "detailed anime illustration, studio quality",
		Negative: "photorealistic, 3d render, blurry, low quality",
	},
	"digital_art": {
		Name:     "Digital Art",
		Prefix:   "digital art, concept art",
		Suffix:   "trending on artstation, highly detailed",
		Negative: "photo, blurry, low quality, watermark",
	},
	"portrait": {
		Name:     "Portrait",
		Prefix:   "portrait, face focus",
		Suffix:   "studio lighting, shallow depth of field, detailed skin",
		Negative: "full body, blurry, deformed face, low quality",
	},
	"landscape": {
		Name:     "Landscape",
		Prefix:   "landscape, wide angle",
		Suffix:   "epic scenery, golden hour, highly detailed",
		Negative: "people, portrait, blurry, low quality",
	},
	"abstract": {
		Name:     "Abstract",
		Prefix:   "abstract art, geometric shapes",
		Suffix:   "bold colors, modern art composition",
		Negative: "realistic, photo, blurry, low quality",
	},
}

// StyleBook resolves style names to presets. Built once at startup, read-only
// afterwards.
type StyleBook struct {
	styles map[string]StylePreset
}

// DefaultStyles returns a StyleBook with the built-in presets.
func DefaultStyles() *StyleBook {
	return &StyleBook{styles: defaultStyles}
}

// LoadStyles reads presets from a YAML file, merged over the built-ins.
func LoadStyles(path string) (*StyleBook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read style presets: %w", err)
	}

	var overrides map[string]StylePreset
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse style presets: %w", err)
	}

	merged := make(map[string]StylePreset, len(defaultStyles)+len(overrides))
	for k, v := range defaultStyles {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return &StyleBook{styles: merged}, nil
}

// ApplyStyle transforms a prompt for the named style. Pure and deterministic:
// prefix + prompt + suffix, plus the style's negative prompt. Unknown styles
// pass the prompt through unchanged with an empty negative prompt. Callers
// apply it exactly once, at dispatch time; the styled form is never persisted
// back into the task.
func (sb *StyleBook) ApplyStyle(prompt, style string) (styled, negative string) {
	preset, ok := sb.styles[style]
	if !ok {
		return prompt, ""
	}

	styled = prompt
	if preset.Prefix != "" {
		styled = preset.Prefix + ", " + styled
	}
	if preset.Suffix != "" {
		styled = styled + ", " + preset.Suffix
	}
	return styled, preset.Negative
}

// Known reports whether a style name has a preset.
func (sb *StyleBook) Known(style string) bool {
	_, ok := sb.styles[style]
	return ok
}
