package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"net/http"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ValidationError reports a rejected input payload. It is the only error the
// analysis pipeline surfaces to callers; everything downstream is recovered
// internally.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Limits bounds the accepted image payloads.
type Limits struct {
	MaxBytes     int64
	AllowedTypes []string
}

// DefaultLimits returns the standard payload bounds: 10MB and the four
// supported raster formats.
func DefaultLimits() Limits {
	return Limits{
		MaxBytes:     10 << 20,
		AllowedTypes: []string{"image/jpeg", "image/png", "image/bmp", "image/webp"},
	}
}

func (l Limits) allows(mime string) bool {
	for _, t := range l.AllowedTypes {
		if strings.EqualFold(t, mime) {
			return true
		}
	}
	return false
}

// Decoded is a validated, decoded image payload.
type Decoded struct {
	Bytes  []byte
	Image  image.Image
	Format string
	MIME   string
	Width  int
	Height int
}

// DecodePayload accepts a self-describing encoded image string, either a
// data URI ("data:image/png;base64,....") or bare base64, and validates it
// against the limits.
func DecodePayload(payload string, limits Limits) (*Decoded, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, &ValidationError{Field: "image", Message: "empty payload"}
	}
	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 {
			return nil, &ValidationError{Field: "image", Message: "malformed data URI"}
		}
		payload = payload[comma+1:]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(payload)
	}
	if err != nil {
		return nil, &ValidationError{Field: "image", Message: "payload is not valid base64"}
	}
	return DecodeBytes(data, limits)
}

// DecodeBytes validates raw image bytes against the limits and decodes them.
func DecodeBytes(data []byte, limits Limits) (*Decoded, error) {
	if len(data) == 0 {
		return nil, &ValidationError{Field: "image", Message: "empty payload"}
	}
	if limits.MaxBytes > 0 && int64(len(data)) > limits.MaxBytes {
		return nil, &ValidationError{
			Field:   "image",
			Message: fmt.Sprintf("payload is %d bytes, limit is %d", len(data), limits.MaxBytes),
		}
	}
	mime := http.DetectContentType(data)
	if !limits.allows(mime) {
		return nil, &ValidationError{
			Field:   "image",
			Message: fmt.Sprintf("unsupported content type %s", mime),
		}
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &ValidationError{Field: "image", Message: fmt.Sprintf("undecodable image: %v", err)}
	}
	bounds := img.Bounds()
	if bounds.Dx() < 8 || bounds.Dy() < 8 {
		return nil, &ValidationError{
			Field:   "image",
			Message: fmt.Sprintf("image is %dx%d, minimum is 8x8", bounds.Dx(), bounds.Dy()),
		}
	}
	return &Decoded{
		Bytes:  data,
		Image:  img,
		Format: format,
		MIME:   mime,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}
