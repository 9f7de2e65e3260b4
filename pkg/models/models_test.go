package models

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestAssetInputValidate(t *testing.T) {
	tests := []struct {
		name    string
		in      AssetInput
		wantErr bool
	}{
		{"song with path", AssetInput{Path: "a.wav", Origin: OriginSong, SongID: "a"}, false},
		{"mix with data", AssetInput{Data: []byte{1}, Origin: OriginMix}, false},
		{"both path and data", AssetInput{Path: "a.wav", Data: []byte{1}, Origin: OriginMix}, true},
		{"neither", AssetInput{Origin: OriginMix}, true},
		{"song without id", AssetInput{Path: "a.wav", Origin: OriginSong}, true},
		{"mix with song id", AssetInput{Path: "m.wav", Origin: OriginMix, SongID: "x"}, true},
		{"bad origin", AssetInput{Path: "m.wav", Origin: "podcast"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestEdgeValidate(t *testing.T) {
	good := TransitionEdge{From: "a", To: "b", MixAssetHash: "m", TimestampMs: 10, Confidence: 0.5}
	if err := good.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := good
	bad.Confidence = 1.5
	if err := bad.Validate(); err == nil {
		t.Error("expected error for confidence above 1")
	}

	bad = good
	bad.MixAssetHash = ""
	if err := bad.Validate(); err == nil {
		t.Error("expected error for missing mix asset")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, ""},
		{fmt.Errorf("reading mix: %w", ErrDecode), KindDecode},
		{fmt.Errorf("wrap: %w", fmt.Errorf("inner: %w", ErrFingerprintStoreConflict)), KindFingerprintStoreConflict},
		{context.DeadlineExceeded, KindTimeout},
		{errors.New("boom"), KindOther},
	}

	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(fmt.Errorf("s3 put: %w", ErrTransient)) {
		t.Error("transient errors should be retryable")
	}
	if !Retryable(context.DeadlineExceeded) {
		t.Error("timeouts should be retryable")
	}
	if Retryable(ErrDecode) {
		t.Error("decode errors must not be retried")
	}
}

func TestCandidateBoundary(t *testing.T) {
	c := TransitionCandidate{
		Prev: Occurrence{EndMs: 180000, Confidence: 0.9},
		Next: Occurrence{StartMs: 182000, Confidence: 0.7},
	}
	if got := c.BoundaryMs(); got != 181000 {
		t.Errorf("BoundaryMs() = %d, want 181000", got)
	}
	if got := c.Confidence(); got != 0.7 {
		t.Errorf("Confidence() = %v, want 0.7", got)
	}
}
