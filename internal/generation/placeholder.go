package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// PlaceholderProvider is the terminal fallback strategy: a deterministic,
// locally rendered frame so an approved request always yields some
// artifact instead of a bare error. For video requests (DurationSeconds
// set) the frame stands in as a static video of the requested length.
type PlaceholderProvider struct{}

// NewPlaceholderProvider creates the local renderer.
func NewPlaceholderProvider() *PlaceholderProvider {
	return &PlaceholderProvider{}
}

func (p *PlaceholderProvider) ModelID() string { return "local-placeholder" }

// Generate implements Provider. It never fails and never touches the
// network; same prompt and aspect ratio, same bytes.
func (p *PlaceholderProvider) Generate(ctx context.Context, req Request) (Artifact, error) {
	img := renderFrame(req.Prompt, req.AspectRatio)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Artifact{}, Terminal(fmt.Errorf("encode placeholder: %w", err))
	}

	kind := ArtifactImage
	if req.DurationSeconds > 0 {
		kind = ArtifactVideo
	}

	return Artifact{
		Kind:            kind,
		Media:           buf.Bytes(),
		ContentType:     "image/png",
		ModelID:         p.ModelID(),
		DurationSeconds: req.DurationSeconds,
		Placeholder:     true,
	}, nil
}

// AspectDimensions maps an aspect ratio string to pixel dimensions.
// Unknown ratios get the 16:9 default.
func AspectDimensions(aspectRatio string) (int, int) {
	switch aspectRatio {
	case "1:1":
		return 1024, 1024
	case "9:16":
		return 576, 1024
	case "4:3":
		return 1024, 768
	case "3:4":
		return 768, 1024
	default: // "16:9" and provider default
		return 1024, 576
	}
}

// theme holds the gradient palette picked from the prompt.
type theme struct {
	top, bottom, accent color.RGBA
}

// themeFor picks colors from keywords in the prompt, falling back to a
// hash-seeded hue so distinct prompts still look distinct.
func themeFor(prompt string) theme {
	lower := strings.ToLower(prompt)
	switch {
	case strings.Contains(lower, "tech") || strings.Contains(lower, "ai") || strings.Contains(lower, "robot"):
		return theme{color.RGBA{0, 100, 200, 255}, color.RGBA{100, 150, 255, 255}, color.RGBA{0, 255, 200, 255}}
	case strings.Contains(lower, "nature") || strings.Contains(lower, "forest") || strings.Contains(lower, "tree"):
		return theme{color.RGBA{34, 139, 34, 255}, color.RGBA{144, 238, 144, 255}, color.RGBA{255, 215, 0, 255}}
	case strings.Contains(lower, "sunset") || strings.Contains(lower, "sunrise"):
		return theme{color.RGBA{255, 94, 77, 255}, color.RGBA{255, 190, 130, 255}, color.RGBA{147, 112, 219, 255}}
	case strings.Contains(lower, "ocean") || strings.Contains(lower, "water") || strings.Contains(lower, "sea"):
		return theme{color.RGBA{0, 119, 190, 255}, color.RGBA{72, 202, 228, 255}, color.RGBA{255, 255, 200, 255}}
	case strings.Contains(lower, "office") || strings.Contains(lower, "work"):
		return theme{color.RGBA{100, 120, 140, 255}, color.RGBA{200, 210, 220, 255}, color.RGBA{70, 130, 180, 255}}
	}

	h := fnv.New32a()
	h.Write([]byte(prompt))
	seed := h.Sum32()
	return theme{
		top:    color.RGBA{uint8(80 + seed%120), uint8(60 + (seed>>8)%120), uint8(140 + (seed>>16)%100), 255},
		bottom: color.RGBA{uint8(140 + seed%100), uint8(100 + (seed>>8)%100), uint8(180 + (seed>>16)%70), 255},
		accent: color.RGBA{255, 200, 100, 255},
	}
}

// renderFrame composites the gradient background, an accent band and the
// caption at a quarter of the target size, then scales up with x/image's
// Catmull-Rom kernel for a soft, non-banded look.
func renderFrame(prompt, aspectRatio string) image.Image {
	width, height := AspectDimensions(aspectRatio)
	th := themeFor(prompt)

	small := image.NewRGBA(image.Rect(0, 0, width/4, height/4))
	sb := small.Bounds()
	for y := sb.Min.Y; y < sb.Max.Y; y++ {
		t := float64(y-sb.Min.Y) / float64(sb.Dy())
		row := lerpColor(th.top, th.bottom, t)
		for x := sb.Min.X; x < sb.Max.X; x++ {
			small.Set(x, y, row)
		}
	}

	// Accent band across the lower third
	bandTop := sb.Dy() * 2 / 3
	for y := bandTop; y < bandTop+3 && y < sb.Max.Y; y++ {
		for x := sb.Min.X; x < sb.Max.X; x++ {
			small.Set(x, y, th.accent)
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), small, sb, draw.Over, nil)

	drawCaption(dst, caption(prompt))
	return dst
}

// caption trims the prompt to a short overlay line.
func caption(prompt string) string {
	const maxLen = 48
	s := strings.TrimSpace(prompt)
	if len(s) > maxLen {
		s = s[:maxLen-1] + "…"
	}
	return s
}

func drawCaption(dst *image.RGBA, text string) {
	b := dst.Bounds()
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.RGBA{255, 255, 255, 255}),
		Face: basicfont.Face7x13,
		Dot: fixed.Point26_6{
			X: fixed.I(b.Min.X + 24),
			Y: fixed.I(b.Max.Y - 24),
		},
	}
	d.DrawString(text)
}

func lerpColor(a, b color.RGBA, t float64) color.RGBA {
	lerp := func(x, y uint8) uint8 {
		return uint8(float64(x) + (float64(y)-float64(x))*t)
	}
	return color.RGBA{lerp(a.R, b.R), lerp(a.G, b.G), lerp(a.B, b.B), 255}
}

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
