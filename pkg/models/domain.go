package models

// Occurrence is one aligned appearance of a song inside a mix. Times are on
// the mix timeline; AlignMs maps them back to song time.
type Occurrence struct {
	SongID        string  `json:"song_id"`
	SongAssetHash string  `json:"song_asset_hash"`
	MixAssetHash  string  `json:"mix_asset_hash"`
	StartMs       int64   `json:"start_ms"`
	EndMs         int64   `json:"end_ms"`
	AlignMs       int64   `json:"align_ms"` // mix time minus song time
	Confidence    float64 `json:"confidence"`
	Votes         int     `json:"votes"`
	Ambiguous     bool    `json:"ambiguous,omitempty"`
	LowConfidence bool    `json:"low_confidence,omitempty"`
}

func (o Occurrence) DurationMs() int64 {
	return o.EndMs - o.StartMs
}

// SongTimeMs converts a mix timestamp into this occurrence's song timeline.
func (o Occurrence) SongTimeMs(mixMs int64) int64 {
	return mixMs - o.AlignMs
}

// QualityMetrics describe how a boundary sounds. They never gate a candidate.
type QualityMetrics struct {
	EnergyDipDB float64 `json:"energy_dip_db"`
	FluxSpikeZ  float64 `json:"flux_spike_z"`
	OverlapMs   int64   `json:"overlap_ms"`
	Measured    bool    `json:"measured"`
}

// TransitionCandidate is a pair of adjacent occurrences close enough to be a
// DJ transition. It is derived data and is not persisted on its own.
type TransitionCandidate struct {
	MixAssetHash string         `json:"mix_asset_hash"`
	Prev         Occurrence     `json:"prev"`
	Next         Occurrence     `json:"next"`
	GapMs        int64          `json:"gap_ms"`
	OverlapMs    int64          `json:"overlap_ms"`
	Quality      QualityMetrics `json:"quality"`
}

// BoundaryMs is the midpoint between the end of Prev and the start of Next.
func (c TransitionCandidate) BoundaryMs() int64 {
	return (c.Prev.EndMs + c.Next.StartMs) / 2
}

// Confidence of a candidate is bounded by its weakest side.
func (c TransitionCandidate) Confidence() float64 {
	return min(c.Prev.Confidence, c.Next.Confidence)
}

type DiagnosticKind string

const (
	DiagnosticAmbiguousOverlap DiagnosticKind = "ambiguous_overlap"
	DiagnosticSelfTransition   DiagnosticKind = "self_transition"
	DiagnosticExcessOverlap    DiagnosticKind = "excess_overlap"
)

// Diagnostic records an adjacent pair the detector refused to turn into a
// transition.
type Diagnostic struct {
	Kind   DiagnosticKind `json:"kind"`
	Prev   Occurrence     `json:"prev"`
	Next   Occurrence     `json:"next"`
	Detail string         `json:"detail"`
}

// SongNode is a vertex of the transition graph.
type SongNode struct {
	SongID      string            `json:"song_id"`
	MetadataRef string            `json:"metadata_ref,omitempty"`
	DurationMs  int64             `json:"duration_ms,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// EdgeKey identifies one observed transition.
type EdgeKey struct {
	From        string `json:"from"`
	To          string `json:"to"`
	MixAssetID  string `json:"mix_asset_id"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// TransitionEdge is a single observation of From being followed by To in a mix.
type TransitionEdge struct {
	From         string            `json:"from"`
	To           string            `json:"to"`
	MixAssetHash string            `json:"mix_asset_hash"`
	TimestampMs  int64             `json:"timestamp_ms"`
	Confidence   float64           `json:"confidence"`
	Extra        map[string]string `json:"extra,omitempty"`
}

func (e TransitionEdge) Key() EdgeKey {
	return EdgeKey{From: e.From, To: e.To, MixAssetID: e.MixAssetHash, TimestampMs: e.TimestampMs}
}

// ClipMetadata travels with every extracted clip.
type ClipMetadata struct {
	PrevSongID   string         `json:"prev_song_id"`
	NextSongID   string         `json:"next_song_id"`
	MixAssetHash string         `json:"mix_asset_hash"`
	StartMs      int64          `json:"start_ms"` // mix slice start
	EndMs        int64          `json:"end_ms"`   // mix slice end
	DurationMs   int64          `json:"duration_ms"`
	SampleRate   int            `json:"sample_rate"`
	Quality      QualityMetrics `json:"quality"`
	Degraded     bool           `json:"degraded"`
	DegradedWhy  []string       `json:"degraded_reasons,omitempty"`
}

// TransitionClip is a rendered transition: PCM samples plus their WAV encoding.
type TransitionClip struct {
	Meta       ClipMetadata
	Samples    []float64
	SampleRate int
	WAV        []byte
}
