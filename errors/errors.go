package errors

import "fmt"

var (
	ErrWorkerPanic        = fmt.Errorf("worker panic")
	ErrInvalidCondition   = fmt.Errorf("invalid search condition")
	ErrStoreClosed        = fmt.Errorf("message store is closed")
	ErrInvalidRecord      = fmt.Errorf("invalid message record")
	ErrInvalidPassword    = fmt.Errorf("password does not meet complexity requirements")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrUserAlreadyExists  = fmt.Errorf("user already exists")
	ErrTokenGeneration    = fmt.Errorf("token generation failed")
	ErrInvalidToken       = fmt.Errorf("invalid or expired token")
	ErrUnsupportedImage   = fmt.Errorf("file is not a supported image")
	ErrImageUpload        = fmt.Errorf("image upload failed")
	ErrEmptyWords         = fmt.Errorf("no words have been found")
)
