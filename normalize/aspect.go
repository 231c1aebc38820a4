package normalize

import (
	"math"
	"strconv"
	"strings"
)

const (
	Aspect16x9 = "16:9"
	Aspect9x16 = "9:16"
	Aspect1x1  = "1:1"
	Aspect4x3  = "4:3"
	Aspect3x4  = "3:4"
	Aspect21x9 = "21:9"

	DefaultAspect = Aspect16x9
)

var knownAspects = []string{Aspect16x9, Aspect9x16, Aspect1x1, Aspect4x3, Aspect3x4, Aspect21x9}

var aspectNames = map[string]string{
	"landscape":  Aspect16x9,
	"horizontal": Aspect16x9,
	"wide":       Aspect16x9,
	"widescreen": Aspect16x9,
	"portrait":   Aspect9x16,
	"vertical":   Aspect9x16,
	"tall":       Aspect9x16,
	"story":      Aspect9x16,
	"square":     Aspect1x1,
	"classic":    Aspect4x3,
	"cinema":     Aspect21x9,
	"ultrawide":  Aspect21x9,
}

// AspectRatio normalizes names ("portrait"), ratios ("16:9", "16x9") and
// pixel sizes ("1920x1080", "1280:720") to one of the known ratios, picking
// the closest one for odd shapes. Empty or unparseable input yields
// DefaultAspect.
func AspectRatio(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return DefaultAspect
	}
	if a, ok := aspectNames[s]; ok {
		return a
	}
	r, ok := parseRatio(s)
	if !ok {
		return DefaultAspect
	}
	return nearest(r, knownAspects)
}

// NearestAspect returns the entry of supported closest to aspect. An empty
// supported list returns the normalized aspect itself.
func NearestAspect(aspect string, supported []string) string {
	a := AspectRatio(aspect)
	if len(supported) == 0 {
		return a
	}
	for _, s := range supported {
		if s == a {
			return a
		}
	}
	r, _ := parseRatio(a)
	return nearest(r, supported)
}

var runwayRatios = map[string]string{
	Aspect16x9: "1280:720",
	Aspect9x16: "720:1280",
	Aspect1x1:  "960:960",
	Aspect4x3:  "1104:832",
	Aspect3x4:  "832:1104",
	Aspect21x9: "1584:672",
}

// RunwayRatio maps an aspect ratio onto the pixel ratio strings Runway's
// gen4 models accept.
func RunwayRatio(aspect string) string {
	return runwayRatios[AspectRatio(aspect)]
}

func parseRatio(s string) (float64, bool) {
	sep := strings.IndexAny(s, ":x/*")
	if sep <= 0 || sep == len(s)-1 {
		return 0, false
	}
	w, err := strconv.ParseFloat(strings.TrimSpace(s[:sep]), 64)
	if err != nil || w <= 0 {
		return 0, false
	}
	h, err := strconv.ParseFloat(strings.TrimSpace(s[sep+1:]), 64)
	if err != nil || h <= 0 {
		return 0, false
	}
	return w / h, true
}

func nearest(r float64, candidates []string) string {
	best, bestDist := "", math.MaxFloat64
	for _, c := range candidates {
		cr, ok := parseRatio(c)
		if !ok {
			continue
		}
		// compare in log space so 2:1 and 1:2 are equally far from 1:1
		d := math.Abs(math.Log(r) - math.Log(cr))
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	if best == "" {
		return DefaultAspect
	}
	return best
}
