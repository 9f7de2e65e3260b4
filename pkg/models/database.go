package models

import "fmt"

// Origin tells whether an asset is a single song or a DJ mix.
type Origin string

const (
	OriginSong Origin = "song"
	OriginMix  Origin = "mix"
)

func (o Origin) Valid() bool {
	return o == OriginSong || o == OriginMix
}

// AudioAsset is an immutable reference to decoded audio. ContentHash is the
// identity; ByteSize and Checksum exist to detect two different byte streams
// that happen to share a content hash.
type AudioAsset struct {
	ContentHash string // xxhash64 of the raw bytes, hex encoded
	Origin      Origin
	SongID      string // set for songs only
	SampleRate  int
	Channels    int
	DurationMs  int64
	ByteSize    int64
	Checksum    uint64 // seeded xxhash64 of the raw bytes
	SourcePath  string
}

// SameContent reports whether two assets with the same content hash describe
// the same bytes.
func (a AudioAsset) SameContent(b AudioAsset) bool {
	return a.ContentHash == b.ContentHash && a.ByteSize == b.ByteSize && a.Checksum == b.Checksum
}

func (a AudioAsset) String() string {
	if a.SongID != "" {
		return fmt.Sprintf("%s:%s(%s)", a.Origin, a.SongID, shortHash(a.ContentHash))
	}
	return fmt.Sprintf("%s(%s)", a.Origin, shortHash(a.ContentHash))
}

// Landmark is one spectral pair hash and the time of its anchor peak.
type Landmark struct {
	Hash     uint32
	AnchorMs uint32
}

// Fingerprint is the full landmark set of one asset, sorted by (AnchorMs, Hash).
type Fingerprint struct {
	AssetHash string
	Landmarks []Landmark
	Digest    uint64
}

func (f Fingerprint) Len() int {
	return len(f.Landmarks)
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
