// Package action defines the closed vocabulary of image operations a user
// can request through a photo caption.
package action

import "strings"

// Action is a requested image operation.
type Action int

const (
	Invalid Action = iota
	Blur
	Contour
	Rotate
	SaltNPepper
	Concat
	Segment
	Predict
)

// names is indexed by Action; Invalid has no caption spelling.
var names = [...]string{
	Invalid:     "invalid",
	Blur:        "blur",
	Contour:     "contour",
	Rotate:      "rotate",
	SaltNPepper: "salt_n_pepper",
	Concat:      "concat",
	Segment:     "segment",
	Predict:     "predict",
}

var byName = func() map[string]Action {
	m := make(map[string]Action, len(names)-1)
	for _, a := range All() {
		m[names[a]] = a
	}
	return m
}()

// All returns every valid action in declaration order.
func All() []Action {
	return []Action{Blur, Contour, Rotate, SaltNPepper, Concat, Segment, Predict}
}

// Classify maps a caption to an action. Matching is exact after trimming
// whitespace and lower-casing; anything else is Invalid.
func Classify(caption string) Action {
	if a, ok := byName[strings.ToLower(strings.TrimSpace(caption))]; ok {
		return a
	}
	return Invalid
}

// String returns the caption spelling of the action.
func (a Action) String() string {
	if a < 0 || int(a) >= len(names) {
		return names[Invalid]
	}
	return names[a]
}

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	return a > Invalid && int(a) < len(names)
}

// Inputs returns how many photos the action consumes: two for Concat, one
// for every other known action and zero for Invalid.
func (a Action) Inputs() int {
	switch {
	case !a.Valid():
		return 0
	case a == Concat:
		return 2
	default:
		return 1
	}
}

// Local reports whether the action is served by the local transform
// pipeline rather than the remote detector.
func (a Action) Local() bool {
	return a.Valid() && a != Predict
}
