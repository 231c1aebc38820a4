package normalize

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestParseCamera(t *testing.T) {
	tests := []struct {
		raw   string
		want  Camera
		known bool
	}{
		{"zoom_in", CameraZoomIn, true},
		{"Zoom-In", CameraZoomIn, true},
		{"  zoom   in ", CameraZoomIn, true},
		{"dolly in", CameraPushIn, true},
		{"ARC_LEFT", CameraOrbitLeft, true},
		{"", CameraNone, true},
		{"spin wildly", Camera("spin_wildly"), false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, known := ParseCamera(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.known, known)
		})
	}
}

func TestCameraPhrase(t *testing.T) {
	assert.Equal(t, "camera slowly zooms in", CameraPhrase("zoom in"))
	assert.Equal(t, "camera orbits around the subject to the left", CameraPhrase("orbit_left"))
	assert.Equal(t, "spin wildly", CameraPhrase("Spin Wildly"))
	assert.Empty(t, CameraPhrase(""))
}

func TestCameraCommand(t *testing.T) {
	cmd, ok := CameraCommand("zoom in")
	assert.True(t, ok)
	assert.Equal(t, "[Zoom in]", cmd)

	cmd, ok = CameraCommand("tracking shot")
	assert.True(t, ok)
	assert.Equal(t, "[Tracking shot]", cmd)

	_, ok = CameraCommand("spin wildly")
	assert.False(t, ok)

	_, ok = CameraCommand("")
	assert.False(t, ok)
}

func TestCameraVectorFor(t *testing.T) {
	tests := []struct {
		raw  string
		want CameraVector
		ok   bool
	}{
		{"zoom_in", CameraVector{Zoom: 5}, true},
		{"pull out", CameraVector{Zoom: -5}, true},
		{"pan_right", CameraVector{Pan: 5}, true},
		{"tilt_down", CameraVector{Tilt: -5}, true},
		{"truck_left", CameraVector{Horizontal: -5}, true},
		{"crane up", CameraVector{Vertical: 5}, true},
		// unreliable movements degrade to a pan
		{"orbit_left", CameraVector{Pan: -5}, true},
		{"roll_right", CameraVector{Pan: 5}, true},
		{"static", CameraVector{}, false},
		{"shake", CameraVector{}, false},
		{"spin wildly", CameraVector{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := CameraVectorFor(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCameraVectorSingleAxis(t *testing.T) {
	for alias := range cameraAliases {
		v, ok := CameraVectorFor(alias)
		if !ok {
			continue
		}
		axes := 0
		for _, f := range []float64{v.Horizontal, v.Vertical, v.Pan, v.Tilt, v.Roll, v.Zoom} {
			if f != 0 {
				axes++
			}
			assert.LessOrEqual(t, f, 10.0)
			assert.GreaterOrEqual(t, f, -10.0)
		}
		assert.Equal(t, 1, axes, alias)
	}
}

func TestAspectRatio(t *testing.T) {
	tests := map[string]string{
		"":          Aspect16x9,
		"16:9":      Aspect16x9,
		"Portrait":  Aspect9x16,
		"square":    Aspect1x1,
		"1920x1080": Aspect16x9,
		"1080x1920": Aspect9x16,
		"1280:720":  Aspect16x9,
		"2:1":       Aspect16x9,
		"garbage":   DefaultAspect,
		"0:9":       DefaultAspect,
	}
	for raw, want := range tests {
		assert.Equal(t, want, AspectRatio(raw), raw)
	}
}

func TestNearestAspect(t *testing.T) {
	supported := []string{Aspect16x9, Aspect9x16, Aspect1x1}
	assert.Equal(t, Aspect16x9, NearestAspect("21:9", supported))
	assert.Equal(t, Aspect9x16, NearestAspect("9:21", supported))
	assert.Equal(t, Aspect1x1, NearestAspect("square", supported))
	assert.Equal(t, Aspect4x3, NearestAspect("4:3", nil))
}

func TestRunwayRatio(t *testing.T) {
	assert.Equal(t, "1280:720", RunwayRatio("landscape"))
	assert.Equal(t, "720:1280", RunwayRatio("9:16"))
	assert.Equal(t, "960:960", RunwayRatio("1:1"))
}

func TestTruncatePrompt(t *testing.T) {
	assert.Equal(t, "hello world", TruncatePrompt("hello world foo", 13))
	assert.Equal(t, "abcd", TruncatePrompt("abcdefghij", 4))
	assert.Equal(t, "你好", TruncatePrompt("你好世界", 2))
	assert.Equal(t, "short", TruncatePrompt("  short  ", 100))
	assert.Equal(t, "unlimited text", TruncatePrompt("unlimited text", 0))
}

func TestTruncatePromptProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prompt := rapid.String().Draw(t, "prompt")
		max := rapid.IntRange(1, 64).Draw(t, "max")
		got := TruncatePrompt(prompt, max)
		if !utf8.ValidString(prompt) {
			return
		}
		if utf8.RuneCountInString(got) > max {
			t.Fatalf("len %d exceeds %d", utf8.RuneCountInString(got), max)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("invalid utf8 %q", got)
		}
		if !strings.HasPrefix(strings.TrimSpace(prompt), got) {
			t.Fatalf("%q is not a prefix of %q", got, prompt)
		}
	})
}

func TestInjectIdentity(t *testing.T) {
	got := InjectIdentity("A woman walks on the beach")
	assert.Equal(t, "A woman walks on the beach. "+IdentityClause, got)
	assert.Equal(t, got, InjectIdentity(got))
	assert.Equal(t, IdentityClause, InjectIdentity(""))
}

func TestBoostQuality(t *testing.T) {
	assert.Equal(t, "A cat sleeps. "+DefaultQualityBoost, BoostQuality("A cat sleeps", ""))
	assert.Equal(t, "A cat sleeps! 4k", BoostQuality("A cat sleeps!", "4k"))
}

func TestBuildPrompt(t *testing.T) {
	assert.Equal(t, "a dog runs. camera pans to the left", BuildPrompt("a dog runs", "camera pans to the left", 0))
	assert.Equal(t, "a dog. camera pans to the left", BuildPrompt("a dog runs", "camera pans to the left", 30))
	assert.Equal(t, "a dog runs", BuildPrompt("a dog runs", "", 0))
	assert.Equal(t, "camera pans", BuildPrompt("", "camera pans", 0))
}
