package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Dimension is a requested width or height. Auto (zero) means "derive it".
type Dimension int

const Auto Dimension = 0

func (d Dimension) IsAuto() bool {
	return d == Auto
}

func (d Dimension) String() string {
	if d.IsAuto() {
		return "auto"
	}
	return strconv.Itoa(int(d))
}

// ParseDimension accepts "auto", an empty string or an integer. Negative
// integers parse fine; Options.Validate rejects them.
func ParseDimension(s string) (Dimension, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "auto") {
		return Auto, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return Auto, fmt.Errorf("invalid dimension %q", s)
	}
	return Dimension(n), nil
}

func (d Dimension) MarshalJSON() ([]byte, error) {
	if d.IsAuto() {
		return []byte(`"auto"`), nil
	}
	return []byte(strconv.Itoa(int(d))), nil
}

func (d *Dimension) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := ParseDimension(s)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("dimension must be a number or \"auto\"")
	}
	if f != math.Trunc(f) {
		return fmt.Errorf("dimension must be a whole number, got %v", f)
	}
	*d = Dimension(f)
	return nil
}

// Size is a resolved output size. Values carry two decimals when derived
// from an aspect ratio.
type Size struct {
	Width  float64
	Height float64
}

// Bounds truncates to whole pixels, which is what a raster surface gets.
// Values past math.MaxInt saturate.
func (s Size) Bounds() (int, int) {
	return truncPixels(s.Width), truncPixels(s.Height)
}

func truncPixels(v float64) int {
	if v >= math.MaxInt {
		return math.MaxInt
	}
	return int(math.Trunc(v))
}

// ResolveSize computes the output size from the natural size and the
// requested dimensions. When both dimensions are fixed the natural size is
// returned unchanged; callers that need an exact box must resize twice.
func ResolveSize(naturalWidth, naturalHeight int, width, height Dimension) Size {
	nw, nh := float64(naturalWidth), float64(naturalHeight)

	switch {
	case !width.IsAuto() && !height.IsAuto():
		return Size{Width: nw, Height: nh}
	case !width.IsAuto():
		ratio := nw / float64(width)
		return Size{Width: float64(width), Height: round2(nh / ratio)}
	case !height.IsAuto():
		ratio := nh / float64(height)
		return Size{Width: round2(nw / ratio), Height: float64(height)}
	default:
		return Size{Width: nw, Height: nh}
	}
}

const epsilon = 0x1p-52

// round2 rounds half-up to two decimals.
func round2(v float64) float64 {
	return math.Floor((v+epsilon)*100+0.5) / 100
}
