package mimetypes

import "mime"

type MIME string

const (
	Unknown MIME = "unknown"

	ImagePNG  MIME = "image/png"
	ImageJPEG MIME = "image/jpeg"
	ImageGIF  MIME = "image/gif"
	ImageWebP MIME = "image/webp"
	ImageBMP  MIME = "image/bmp"
)

var images = []MIME{ImagePNG, ImageJPEG, ImageGIF, ImageWebP, ImageBMP}

// Image returns the accepted image type behind a detected content type.
// Parameters such as charset are ignored.
func Image(detected string) (MIME, bool) {
	mt, _, err := mime.ParseMediaType(detected)
	if err != nil {
		return Unknown, false
	}
	for _, image := range images {
		if mt == string(image) {
			return image, true
		}
	}
	return Unknown, false
}
