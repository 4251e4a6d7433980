package pipeline

import (
	"fmt"
	"strings"

	"reelworks/internal/engine"
)

// BuildMasterManifest renders the top-level HLS playlist referencing one
// variant playlist per tier. Entries are ordered by ascending bandwidth so
// players start on the cheapest rendition, regardless of encode order.
func BuildMasterManifest(tiers []engine.Tier) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, tier := range engine.SortByBandwidth(tiers) {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s\n", tier.Bandwidth(), tier.Resolution())
		b.WriteString(tier.Name + ".m3u8\n")
	}
	return b.String()
}
