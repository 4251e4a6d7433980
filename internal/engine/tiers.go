package engine

import (
	"sort"
	"strconv"
	"strings"
)

// Tier is a named quality level mapping to a fixed resolution and bitrate.
type Tier struct {
	Name        string
	Width       int
	Height      int
	VideoKbps   int
	AudioKbps   int
	MaxRateKbps int
	BufSizeKbps int
}

// Bandwidth returns the peak bandwidth advertised for the tier in bits per
// second, covering both the video and audio tracks.
func (t Tier) Bandwidth() int {
	return (t.VideoKbps + t.AudioKbps) * 1000
}

// Resolution formats the tier as WIDTHxHEIGHT for manifest metadata.
func (t Tier) Resolution() string {
	return strconv.Itoa(t.Width) + "x" + strconv.Itoa(t.Height)
}

var tierTable = map[string]Tier{
	"360p":  {Name: "360p", Width: 640, Height: 360, VideoKbps: 800, AudioKbps: 96, MaxRateKbps: 1200, BufSizeKbps: 1600},
	"480p":  {Name: "480p", Width: 854, Height: 480, VideoKbps: 1200, AudioKbps: 96, MaxRateKbps: 1800, BufSizeKbps: 2400},
	"720p":  {Name: "720p", Width: 1280, Height: 720, VideoKbps: 2500, AudioKbps: 128, MaxRateKbps: 3750, BufSizeKbps: 5000},
	"1080p": {Name: "1080p", Width: 1920, Height: 1080, VideoKbps: 5000, AudioKbps: 128, MaxRateKbps: 7500, BufSizeKbps: 10000},
}

// DefaultTierNames is the full ladder in the default encode order.
var DefaultTierNames = []string{"360p", "480p", "720p", "1080p"}

// LookupTier resolves a tier name. Unknown names fall back to 480p so a
// misconfigured ladder still produces playable output; the boolean reports
// whether the name was recognised.
func LookupTier(name string) (Tier, bool) {
	tier, ok := tierTable[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		fallback := tierTable["480p"]
		fallback.Name = strings.ToLower(strings.TrimSpace(name))
		if fallback.Name == "" {
			fallback.Name = "480p"
		}
		return fallback, false
	}
	return tier, true
}

// ResolveTiers maps configured tier names to the ladder used by the
// pipeline, preserving the configured encode order and dropping duplicates.
func ResolveTiers(names []string) []Tier {
	if len(names) == 0 {
		names = DefaultTierNames
	}
	seen := make(map[string]struct{}, len(names))
	tiers := make([]Tier, 0, len(names))
	for _, name := range names {
		tier, _ := LookupTier(name)
		if _, dup := seen[tier.Name]; dup {
			continue
		}
		seen[tier.Name] = struct{}{}
		tiers = append(tiers, tier)
	}
	return tiers
}

// SortByBandwidth returns a copy ordered by ascending bandwidth, the order
// required of master manifest entries regardless of encode order.
func SortByBandwidth(tiers []Tier) []Tier {
	sorted := append([]Tier(nil), tiers...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Bandwidth() == sorted[j].Bandwidth() {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].Bandwidth() < sorted[j].Bandwidth()
	})
	return sorted
}
