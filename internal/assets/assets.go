// Package assets provides durable byte storage for uploaded originals and
// generated streaming artifacts, addressed by slash-separated relative paths.
package assets

import (
	"fmt"
	"io"
	"path"
	"strings"
)

// Store abstracts the byte storage the pipeline reads and writes. Paths are
// relative, slash-separated, and scoped to the store root; implementations
// must reject any path escaping that root.
type Store interface {
	Save(relPath string, r io.Reader) (int64, error)
	Open(relPath string) (io.ReadSeekCloser, error)
	Exists(relPath string) bool
	Remove(relPath string) error
	RemoveAll(relPath string) error
	// AbsPath resolves a relative path to a location an external process
	// (the transcode engine) can read and write directly.
	AbsPath(relPath string) (string, error)
	EnsureDir(relPath string) error
}

// Path layout: originals are keyed by generated filename, derived output
// lives in one namespace per video id, and each video has a single thumbnail
// object.
const (
	originalsPrefix  = "originals"
	outputsPrefix    = "videos"
	thumbnailsPrefix = "thumbnails"
)

// OriginalPath returns the storage path for an uploaded source asset.
func OriginalPath(videoID, ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return path.Join(originalsPrefix, videoID+ext)
}

// OutputDir returns the per-video namespace for segments and playlists.
func OutputDir(videoID string) string {
	return path.Join(outputsPrefix, videoID)
}

// MasterManifestPath returns the location of the top-level playlist.
func MasterManifestPath(videoID string) string {
	return path.Join(OutputDir(videoID), "master.m3u8")
}

// RenditionPlaylistPath returns the per-tier playlist location.
func RenditionPlaylistPath(videoID, tierName string) string {
	return path.Join(OutputDir(videoID), tierName+".m3u8")
}

// SegmentPath resolves a named artifact inside the video's output namespace.
// The name must already be validated by the caller.
func SegmentPath(videoID, name string) string {
	return path.Join(OutputDir(videoID), name)
}

// ThumbnailPath returns the location of the video's still frame.
func ThumbnailPath(videoID string) string {
	return path.Join(thumbnailsPrefix, videoID+".jpg")
}

// ErrUnsafePath reports a path that would resolve outside the store root.
var ErrUnsafePath = fmt.Errorf("asset path escapes store root")
