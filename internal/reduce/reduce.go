// Package reduce implements the compatibility reducer ("smooshing"): folding
// the cartesian product of granular Blender versions and platforms into the
// smallest set of equivalence classes such that one archive serves each
// class (spec §4.6).
package reduce

import (
	"sort"

	"github.com/blext-tools/blext/internal/blplatform"
	"github.com/blext-tools/blext/internal/catalog"
)

// VersionChunks folds a sorted-by-(min-version, release-date) slice of
// granular BLVersions into the minimal set of chunks under
// BLVersion.IsSmooshableWith, restricted to what the extension actually
// uses (extPlatforms/extPyTags/extABITags/extTags). Returns the chunk list
// and a map from each granular version's display string to its owning
// chunk's index in that list.
func VersionChunks(
	granular []catalog.BLVersion,
	extPlatforms []blplatform.Platform,
	extPyTags, extABITags, extTags []string,
) (chunks []catalog.BLVersion, granularToChunk map[string]int) {
	sorted := append([]catalog.BLVersion(nil), granular...)
	sort.Slice(sorted, func(i, j int) bool {
		mi, mj := sorted[i].MinVersion(), sorted[j].MinVersion()
		for k := range mi {
			if mi[k] != mj[k] {
				return mi[k] < mj[k]
			}
		}

		return sorted[i].Releases[0].ReleaseInstant.Before(sorted[j].Releases[0].ReleaseInstant)
	})

	granularToChunk = make(map[string]int, len(sorted))

	if len(sorted) == 0 {
		return nil, granularToChunk
	}

	acc := sorted[0]
	granularToChunk[sorted[0].DisplayString()] = 0

	for _, next := range sorted[1:] {
		if acc.IsSmooshableWith(next, extPlatforms, extPyTags, extABITags, extTags) {
			acc = acc.SmooshWith(next)
		} else {
			chunks = append(chunks, acc)
			acc = next
		}

		granularToChunk[next.DisplayString()] = len(chunks)
	}

	chunks = append(chunks, acc)

	return chunks, granularToChunk
}

// PlatformChunks folds a sorted slice of granular platforms into the
// minimal set of platform Sets under blplatform.Set.IsSmooshableWith, given
// the wheels already selected per (version, platform) cell under this
// Blender-version chunk.
func PlatformChunks(
	granular []blplatform.Platform,
	ctx blplatform.SmooshContext,
) (chunks []blplatform.Set, granularToChunk map[blplatform.Platform]int) {
	sorted := append([]blplatform.Platform(nil), granular...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	granularToChunk = make(map[blplatform.Platform]int, len(sorted))

	if len(sorted) == 0 {
		return nil, granularToChunk
	}

	acc := blplatform.FromPlatform(sorted[0])
	granularToChunk[sorted[0]] = 0

	for _, next := range sorted[1:] {
		if acc.IsSmooshableWith(next, ctx) {
			acc = acc.SmooshWith(next)
		} else {
			chunks = append(chunks, acc)
			acc = blplatform.FromPlatform(next)
		}

		granularToChunk[next] = len(chunks)
	}

	chunks = append(chunks, acc)

	return chunks, granularToChunk
}
