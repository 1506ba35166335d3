package enums

import "fmt"

// UploadScene declares what kind of asset an upload permit covers.
type UploadScene string

const (
	UploadSceneVideo UploadScene = "video"
	UploadSceneImage UploadScene = "image"
)

var validUploadScenes = []UploadScene{
	UploadSceneVideo,
	UploadSceneImage,
}

// String returns the literal string for the scene.
func (s UploadScene) String() string {
	return string(s)
}

// IsValid reports whether the scene is known.
func (s UploadScene) IsValid() bool {
	for _, candidate := range validUploadScenes {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseUploadScene converts raw input into an UploadScene.
func ParseUploadScene(value string) (UploadScene, error) {
	for _, candidate := range validUploadScenes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid upload scene %q", value)
}
