package deepface

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDeepFaceUnavailable = errors.New("deepface service unavailable")
	ErrInvalidResponse     = errors.New("invalid response from deepface")
)

// noFaceMarker is how DeepFace reports an image without faces when
// detection is enforced.
const noFaceMarker = "Face could not be detected"

// StatusError is a non-2xx reply from the DeepFace API
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("deepface returned status %d: %s", e.StatusCode, e.Body)
}

// ClientError reports whether the request itself was rejected (4xx)
func (e *StatusError) ClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// NoFace reports whether DeepFace rejected the image only because it
// found no face in it.
func (e *StatusError) NoFace() bool {
	return e.ClientError() && strings.Contains(e.Body, noFaceMarker)
}

func isClientError(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.ClientError()
}
