package audio

import (
	"strconv"

	xxhash "github.com/OneOfOne/xxhash"
	"github.com/judacas/AutoDJ/pkg/models"
)

// checksumSeed makes the secondary checksum independent of the content hash.
const checksumSeed = 0x5eed_a17d

// Identify computes the identity fields of an asset from its raw bytes.
func Identify(data []byte, origin models.Origin, songID string) models.AudioAsset {
	return models.AudioAsset{
		ContentHash: ContentHash(data),
		Origin:      origin,
		SongID:      songID,
		ByteSize:    int64(len(data)),
		Checksum:    xxhash.Checksum64S(data, checksumSeed),
	}
}

// ContentHash is the hex xxhash64 of data.
func ContentHash(data []byte) string {
	h := xxhash.Checksum64(data)
	s := strconv.FormatUint(h, 16)
	for len(s) < 16 {
		s = "0" + s
	}
	return s
}
