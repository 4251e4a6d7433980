// Package engine abstracts the external transcoding tool behind a small
// capability interface so the pipeline state machine never depends on a
// specific binary or provider.
package engine

import "context"

// ProbeResult carries the container metadata extracted from a source asset.
type ProbeResult struct {
	DurationSeconds float64
	Width           int
	Height          int
	Container       string
	VideoCodec      string
	AudioCodec      string
	BitrateKbps     int
}

// Engine is the transcoding capability surface: metadata probing, still
// frame extraction, and segmented single-rendition encodes. Implementations
// must be safe for concurrent use.
type Engine interface {
	// Probe inspects the source asset at the given filesystem path.
	Probe(ctx context.Context, sourcePath string) (ProbeResult, error)

	// ExtractFrame writes a single still image taken offsetSeconds into
	// the source to destPath.
	ExtractFrame(ctx context.Context, sourcePath string, offsetSeconds float64, destPath string) error

	// EncodeRendition produces a segmented encode of the source for one
	// quality tier into outputDir. The playlist is named <tier>.m3u8 and
	// segments <tier>_<seq>.ts, relative to outputDir.
	EncodeRendition(ctx context.Context, sourcePath, outputDir string, tier Tier) error
}
