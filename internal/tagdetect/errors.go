package tagdetect

import (
	"errors"
	"strings"
)

// ErrPoseAmbiguity is the sentinel a Detector should return (possibly
// wrapped) when the pose solver finds more than one minimum. The engine
// treats it as a signal to permanently fall back to 2D-only detection.
var ErrPoseAmbiguity = errors.New("tagdetect: ambiguous pose minima")

// ambiguityMessage is the substring the upstream AprilTag solver emits for
// the same condition. Matching it here keeps the string comparison in one
// narrow adapter at the detector boundary.
const ambiguityMessage = "more than one new minima found"

// IsPoseAmbiguity reports whether err represents the ambiguous-minima
// pose failure, either as the typed sentinel or as the upstream library's
// message.
func IsPoseAmbiguity(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPoseAmbiguity) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), ambiguityMessage)
}
