// Package normalize maps abstract camera, aspect ratio and prompt directives
// onto the vocabularies individual video providers understand.
//
// Everything in here is pure: no I/O, no provider state.
package normalize

import "strings"

// Camera is a canonical camera movement directive.
type Camera string

const (
	CameraNone         Camera = ""
	CameraStatic       Camera = "static"
	CameraZoomIn       Camera = "zoom_in"
	CameraZoomOut      Camera = "zoom_out"
	CameraPanLeft      Camera = "pan_left"
	CameraPanRight     Camera = "pan_right"
	CameraTiltUp       Camera = "tilt_up"
	CameraTiltDown     Camera = "tilt_down"
	CameraTruckLeft    Camera = "truck_left"
	CameraTruckRight   Camera = "truck_right"
	CameraPushIn       Camera = "push_in"
	CameraPullOut      Camera = "pull_out"
	CameraPedestalUp   Camera = "pedestal_up"
	CameraPedestalDown Camera = "pedestal_down"
	CameraOrbitLeft    Camera = "orbit_left"
	CameraOrbitRight   Camera = "orbit_right"
	CameraRollLeft     Camera = "roll_left"
	CameraRollRight    Camera = "roll_right"
	CameraShake        Camera = "shake"
	CameraTracking     Camera = "tracking"
)

var cameraAliases = map[string]Camera{
	"static":          CameraStatic,
	"still":           CameraStatic,
	"fixed":           CameraStatic,
	"locked":          CameraStatic,
	"zoom_in":         CameraZoomIn,
	"zoomin":          CameraZoomIn,
	"zoom_out":        CameraZoomOut,
	"zoomout":         CameraZoomOut,
	"pan_left":        CameraPanLeft,
	"pan_right":       CameraPanRight,
	"tilt_up":         CameraTiltUp,
	"tilt_down":       CameraTiltDown,
	"truck_left":      CameraTruckLeft,
	"track_left":      CameraTruckLeft,
	"truck_right":     CameraTruckRight,
	"track_right":     CameraTruckRight,
	"push_in":         CameraPushIn,
	"dolly_in":        CameraPushIn,
	"pull_out":        CameraPullOut,
	"dolly_out":       CameraPullOut,
	"pedestal_up":     CameraPedestalUp,
	"crane_up":        CameraPedestalUp,
	"pedestal_down":   CameraPedestalDown,
	"crane_down":      CameraPedestalDown,
	"orbit_left":      CameraOrbitLeft,
	"arc_left":        CameraOrbitLeft,
	"orbit_right":     CameraOrbitRight,
	"arc_right":       CameraOrbitRight,
	"roll_left":       CameraRollLeft,
	"roll_right":      CameraRollRight,
	"shake":           CameraShake,
	"handheld":        CameraShake,
	"tracking":        CameraTracking,
	"tracking_shot":   CameraTracking,
	"follow":          CameraTracking,
}

// ParseCamera canonicalizes a user supplied directive. Case, surrounding
// space, dashes and inner spaces are ignored ("Zoom-In", "zoom in"). Unknown
// directives come back unchanged in their folded form with ok=false.
func ParseCamera(raw string) (Camera, bool) {
	key := foldDirective(raw)
	if key == "" {
		return CameraNone, true
	}
	if c, ok := cameraAliases[key]; ok {
		return c, true
	}
	return Camera(key), false
}

func foldDirective(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}

var cameraPhrases = map[Camera]string{
	CameraStatic:       "static camera, no camera movement",
	CameraZoomIn:       "camera slowly zooms in",
	CameraZoomOut:      "camera slowly zooms out",
	CameraPanLeft:      "camera pans to the left",
	CameraPanRight:     "camera pans to the right",
	CameraTiltUp:       "camera tilts upward",
	CameraTiltDown:     "camera tilts downward",
	CameraTruckLeft:    "camera trucks left alongside the subject",
	CameraTruckRight:   "camera trucks right alongside the subject",
	CameraPushIn:       "camera pushes in toward the subject",
	CameraPullOut:      "camera pulls back away from the subject",
	CameraPedestalUp:   "camera rises vertically",
	CameraPedestalDown: "camera lowers vertically",
	CameraOrbitLeft:    "camera orbits around the subject to the left",
	CameraOrbitRight:   "camera orbits around the subject to the right",
	CameraRollLeft:     "camera rolls counterclockwise",
	CameraRollRight:    "camera rolls clockwise",
	CameraShake:        "handheld camera with subtle shake",
	CameraTracking:     "tracking shot following the subject",
}

// CameraPhrase renders a directive as free text for providers that only take
// a prompt. Unknown directives are passed through with underscores spaced out.
func CameraPhrase(raw string) string {
	c, ok := ParseCamera(raw)
	if c == CameraNone {
		return ""
	}
	if ok {
		return cameraPhrases[c]
	}
	return strings.ReplaceAll(string(c), "_", " ")
}

var cameraCommands = map[Camera]string{
	CameraStatic:       "[Static shot]",
	CameraZoomIn:       "[Zoom in]",
	CameraZoomOut:      "[Zoom out]",
	CameraPanLeft:      "[Pan left]",
	CameraPanRight:     "[Pan right]",
	CameraTiltUp:       "[Tilt up]",
	CameraTiltDown:     "[Tilt down]",
	CameraTruckLeft:    "[Truck left]",
	CameraTruckRight:   "[Truck right]",
	CameraPushIn:       "[Push in]",
	CameraPullOut:      "[Pull out]",
	CameraPedestalUp:   "[Pedestal up]",
	CameraPedestalDown: "[Pedestal down]",
	CameraShake:        "[Shake]",
	CameraTracking:     "[Tracking shot]",
	// no orbit or roll command; the closest lateral move reads better than nothing
	CameraOrbitLeft:  "[Truck left,Pan right]",
	CameraOrbitRight: "[Truck right,Pan left]",
	CameraRollLeft:   "[Pan left]",
	CameraRollRight:  "[Pan right]",
}

// CameraCommand returns the bracketed command token used by MiniMax Hailuo
// prompts. ok is false when the directive has no command and the caller
// should fall back to CameraPhrase.
func CameraCommand(raw string) (string, bool) {
	c, known := ParseCamera(raw)
	if c == CameraNone || !known {
		return "", false
	}
	cmd, ok := cameraCommands[c]
	return cmd, ok
}

// CameraVector is the six axis camera control used by Kling. Every axis is in
// [-10, 10]; Kling accepts exactly one non-zero axis per request.
type CameraVector struct {
	Horizontal float64 `json:"horizontal"`
	Vertical   float64 `json:"vertical"`
	Pan        float64 `json:"pan"`
	Tilt       float64 `json:"tilt"`
	Roll       float64 `json:"roll"`
	Zoom       float64 `json:"zoom"`
}

// IsZero reports whether no axis is set.
func (v CameraVector) IsZero() bool {
	return v == CameraVector{}
}

const vectorMagnitude = 5

// kling renders orbit and roll poorly, so both degrade to a pan in the same direction.
var klingFallbacks = map[Camera]Camera{
	CameraOrbitLeft:  CameraPanLeft,
	CameraOrbitRight: CameraPanRight,
	CameraRollLeft:   CameraPanLeft,
	CameraRollRight:  CameraPanRight,
	CameraShake:      CameraStatic,
	CameraTracking:   CameraPushIn,
}

// CameraVectorFor maps a directive onto the six axis vector. ok is false for
// unknown directives and for the static shot, both of which should be sent
// without camera control.
func CameraVectorFor(raw string) (CameraVector, bool) {
	c, known := ParseCamera(raw)
	if !known || c == CameraNone {
		return CameraVector{}, false
	}
	if fb, ok := klingFallbacks[c]; ok {
		c = fb
	}
	m := float64(vectorMagnitude)
	switch c {
	case CameraZoomIn, CameraPushIn:
		return CameraVector{Zoom: m}, true
	case CameraZoomOut, CameraPullOut:
		return CameraVector{Zoom: -m}, true
	case CameraPanLeft:
		return CameraVector{Pan: -m}, true
	case CameraPanRight:
		return CameraVector{Pan: m}, true
	case CameraTiltUp:
		return CameraVector{Tilt: m}, true
	case CameraTiltDown:
		return CameraVector{Tilt: -m}, true
	case CameraTruckLeft:
		return CameraVector{Horizontal: -m}, true
	case CameraTruckRight:
		return CameraVector{Horizontal: m}, true
	case CameraPedestalUp:
		return CameraVector{Vertical: m}, true
	case CameraPedestalDown:
		return CameraVector{Vertical: -m}, true
	}
	return CameraVector{}, false
}
