package handler

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
)

const (
	maxFrameSize = 10 * 1024 * 1024 // 10MB decoded
)

var errFrameTooLarge = errors.New("frame exceeds 10MB")

// decodeFrame decodes a base64 frame, optionally wrapped in a
// data:image/...;base64, URI
func decodeFrame(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if strings.HasPrefix(encoded, "data:") {
		_, payload, ok := strings.Cut(encoded, ",")
		if !ok {
			return nil, domain.ErrInvalidImage.WithError(errors.New("malformed data URI"))
		}
		encoded = payload
	}
	if encoded == "" {
		return nil, domain.ErrInvalidImage.WithError(errors.New("empty frame"))
	}
	if base64.StdEncoding.DecodedLen(len(encoded)) > maxFrameSize+3 {
		return nil, domain.ErrInvalidImage.WithError(errFrameTooLarge)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// some encoders drop the padding
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return nil, domain.ErrInvalidImage.WithError(err)
		}
	}
	if len(data) > maxFrameSize {
		return nil, domain.ErrInvalidImage.WithError(errFrameTooLarge)
	}
	return data, nil
}
