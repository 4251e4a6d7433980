package pipeline

import (
	"strings"
	"testing"

	"reelworks/internal/engine"
)

func TestBuildMasterManifestOrdersByBandwidth(t *testing.T) {
	tiers := engine.ResolveTiers([]string{"1080p", "360p", "720p"})
	manifest := BuildMasterManifest(tiers)

	if !strings.HasPrefix(manifest, "#EXTM3U\n#EXT-X-VERSION:3\n") {
		t.Fatalf("manifest header wrong:\n%s", manifest)
	}
	lines := strings.Split(strings.TrimSpace(manifest), "\n")
	var playlists []string
	for _, line := range lines {
		if strings.HasSuffix(line, ".m3u8") {
			playlists = append(playlists, line)
		}
	}
	want := []string{"360p.m3u8", "720p.m3u8", "1080p.m3u8"}
	if len(playlists) != len(want) {
		t.Fatalf("playlists = %v", playlists)
	}
	for i := range want {
		if playlists[i] != want[i] {
			t.Fatalf("playlists = %v, want %v", playlists, want)
		}
	}
	if !strings.Contains(manifest, "BANDWIDTH=896000,RESOLUTION=640x360") {
		t.Errorf("360p variant line missing:\n%s", manifest)
	}
	if !strings.Contains(manifest, "BANDWIDTH=5128000,RESOLUTION=1920x1080") {
		t.Errorf("1080p variant line missing:\n%s", manifest)
	}
}
