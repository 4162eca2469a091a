package storage

import (
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/rs/xid"
)

// LocatorPrefix marks a photo file_path that points into the object store.
const LocatorPrefix = "s3:"

// EventPrefix returns the key prefix holding every object of an event.
func EventPrefix(eventID int64) string {
	return fmt.Sprintf("events/%d/", eventID)
}

// PhotoPrefix returns the key prefix under which originals of an event live.
func PhotoPrefix(eventID int64) string {
	return fmt.Sprintf("events/%d/photos/", eventID)
}

// PhotoKey builds a unique key for a new original upload.
func PhotoKey(eventID int64, filename, mimeType string, now time.Time) string {
	return fmt.Sprintf("%s%d-%s%s", PhotoPrefix(eventID), now.UnixMilli(), xid.New().String(), extension(filename, mimeType))
}

// ThumbKey derives the derivative key for an original key.
// events/1/photos/a.jpg with tag sm becomes events/1/photos/thumbs/sm-a.jpg.
func ThumbKey(key, sizeTag string) string {
	dir, base := path.Split(key)
	return dir + "thumbs/" + sizeTag + "-" + base
}

// ThumbPrefix returns the directory holding derivatives of key.
func ThumbPrefix(key string) string {
	dir, _ := path.Split(key)
	return dir + "thumbs/"
}

// IsThumbOf reports whether derivative is a thumbnail of original under any size tag.
func IsThumbOf(derivative, original string) bool {
	if !strings.HasPrefix(derivative, ThumbPrefix(original)) {
		return false
	}
	name := strings.TrimPrefix(derivative, ThumbPrefix(original))
	tag, base, ok := strings.Cut(name, "-")
	return ok && tag != "" && base == path.Base(original)
}

// BelongsToEvent reports whether key was issued for an original of eventID.
func BelongsToEvent(key string, eventID int64) bool {
	prefix := PhotoPrefix(eventID)
	if !strings.HasPrefix(key, prefix) {
		return false
	}
	rest := strings.TrimPrefix(key, prefix)
	return rest != "" && !strings.Contains(rest, "/") && !strings.Contains(key, "..")
}

// Locator encodes an object key for persistence in photos.file_path.
func Locator(key string) string {
	return LocatorPrefix + key
}

// ParseLocator splits a file_path into an object key or a legacy local path.
func ParseLocator(filePath string) (string, bool) {
	if strings.HasPrefix(filePath, LocatorPrefix) {
		return strings.TrimPrefix(filePath, LocatorPrefix), true
	}
	return filePath, false
}

func extension(filename, mimeType string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext != "" && len(ext) <= 6 && !strings.ContainsAny(ext, "/\\ ") {
		return ext
	}
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".jpg"
}
