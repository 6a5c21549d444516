package services

import (
	"chat-app/contract"
	"chat-app/domain/mimetypes"
	"chat-app/errors"
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
)

const imageFolder = "chat-images"

var validate = validator.New()

type UploadRequest struct {
	UserName string `validate:"required,max=64"`
	FileName string `validate:"required,max=255"`
	Data     []byte `validate:"required"`
}

type ImageService struct {
	log   *slog.Logger
	blobs contract.IBlobStore
	now   func() time.Time
}

func NewImageService(log *slog.Logger, blobs contract.IBlobStore) *ImageService {
	return &ImageService{log: log, blobs: blobs, now: time.Now}
}

// UploadImage stores an image as chat-images/{user}_{unix ms}_{file} and returns its URL.
// Any storage failure surfaces as ErrImageUpload.
func (s *ImageService) UploadImage(ctx context.Context, upload UploadRequest) (string, error) {
	if err := validate.Struct(upload); err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrImageUpload, err)
	}

	detected := mimetype.Detect(upload.Data).String()
	if _, ok := mimetypes.Image(detected); !ok {
		return "", fmt.Errorf("%w: %s", errors.ErrUnsupportedImage, detected)
	}

	// Client file names may carry directories
	fileName := path.Base(path.Clean("/" + upload.FileName))
	objectPath := fmt.Sprintf("%s/%s_%d_%s", imageFolder, upload.UserName, s.now().UnixMilli(), fileName)

	url, err := s.blobs.Put(ctx, objectPath, upload.Data)
	if err != nil {
		s.log.Error("Image upload failed", "path", objectPath, "error", err)
		return "", errors.ErrImageUpload
	}
	return url, nil
}
