// Package platform provides the static preset table mapping a source
// platform to its default watermark crop parameters.
package platform

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Position indicates which border of the frame carries the watermark.
type Position string

const (
	PositionTop    Position = "top"
	PositionBottom Position = "bottom"
	PositionLeft   Position = "left"
	PositionRight  Position = "right"
)

// IsValid returns true if the position is one of the supported borders.
func (p Position) IsValid() bool {
	switch p {
	case PositionTop, PositionBottom, PositionLeft, PositionRight:
		return true
	default:
		return false
	}
}

// ErrUnknownPlatform is returned when a platform identifier has no preset.
var ErrUnknownPlatform = errors.New("platform: unknown platform")

// Preset holds the default crop parameters for a platform's watermark.
type Preset struct {
	// Name is the platform identifier.
	Name string
	// CropPixels is the default number of pixels to trim.
	CropPixels int
	// CropPosition is the default border to trim from.
	CropPosition Position
}

// DefaultCropPixels is used when neither the request nor the platform
// provides a crop width.
const DefaultCropPixels = 100

// DefaultCropPosition is used when neither the request nor the platform
// provides a crop border.
const DefaultCropPosition = PositionBottom

// presets maps platform identifiers to their crop defaults.
var presets = map[string]Preset{
	"sora":   {Name: "sora", CropPixels: 100, CropPosition: PositionBottom},
	"tiktok": {Name: "tiktok", CropPixels: 120, CropPosition: PositionBottom},
	"runway": {Name: "runway", CropPixels: 80, CropPosition: PositionBottom},
	"pika":   {Name: "pika", CropPixels: 90, CropPosition: PositionBottom},
}

// Lookup returns the preset for the given platform identifier.
// Returns ErrUnknownPlatform if no preset exists.
func Lookup(name string) (Preset, error) {
	p, ok := presets[strings.ToLower(name)]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", ErrUnknownPlatform, name)
	}
	return p, nil
}

// Known returns true if a preset exists for the platform identifier.
func Known(name string) bool {
	_, ok := presets[strings.ToLower(name)]
	return ok
}

// Names returns the supported platform identifiers.
func Names() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve computes the effective crop parameters from an explicit request
// override, the platform preset, and the global defaults, in that order.
// A zero pixels value or empty position means "not specified".
func Resolve(platformName string, pixels int, position Position) (int, Position) {
	effectivePixels := pixels
	effectivePosition := position

	if preset, err := Lookup(platformName); err == nil {
		if effectivePixels <= 0 {
			effectivePixels = preset.CropPixels
		}
		if effectivePosition == "" {
			effectivePosition = preset.CropPosition
		}
	}

	if effectivePixels <= 0 {
		effectivePixels = DefaultCropPixels
	}
	if effectivePosition == "" {
		effectivePosition = DefaultCropPosition
	}

	return effectivePixels, effectivePosition
}
