// ABOUTME: Unit tests for PCM encoder
// ABOUTME: Tests 16-bit and 24-bit PCM encoding and block padding
package encode

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/Thalhammer/libspotify-embedded/pkg/audio"
	"github.com/Thalhammer/libspotify-embedded/pkg/audio/decode"
)

func TestNewPCM(t *testing.T) {
	tests := []struct {
		name        string
		format      audio.Format
		errContains string
	}{
		{"valid 16-bit PCM", audio.Format{Codec: "pcm", SampleRate: 44100, Channels: 2, BitDepth: 16}, ""},
		{"valid 24-bit PCM", audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 24}, ""},
		{"invalid codec", audio.Format{Codec: "opus", SampleRate: 48000, Channels: 2, BitDepth: 16}, "invalid codec"},
		{"unsupported bit depth", audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 32}, "unsupported bit depth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoder, err := NewPCM(tt.format)
			if tt.errContains != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("NewPCM() error = %v, want error containing %q", err, tt.errContains)
				}
				return
			}
			if err != nil || encoder == nil {
				t.Errorf("NewPCM() = %v, %v", encoder, err)
			}
		})
	}
}

func TestPCMEncoder_Encode16Bit(t *testing.T) {
	encoder, err := NewPCM(audio.Format{Codec: "pcm", SampleRate: 44100, Channels: 2, BitDepth: 16})
	if err != nil {
		t.Fatalf("NewPCM() failed: %v", err)
	}
	defer encoder.Close()

	samples := []int16{0, 32767, -32768, 0x1234, -0x5678}
	output, err := encoder.Encode(samples)
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	if len(output) != len(samples)*2 {
		t.Fatalf("Encode() output size = %d, want %d", len(output), len(samples)*2)
	}
	for i, want := range samples {
		if got := int16(binary.LittleEndian.Uint16(output[i*2:])); got != want {
			t.Errorf("Sample %d: got %d, want %d", i, got, want)
		}
	}
}

func TestPCM24BitRoundTrip(t *testing.T) {
	format := audio.Format{Codec: "pcm", SampleRate: 48000, Channels: 1, BitDepth: 24}
	encoder, err := NewPCM(format)
	if err != nil {
		t.Fatalf("NewPCM() failed: %v", err)
	}

	samples := []int16{0, 100, -100, 32767, -32768}
	data, err := encoder.Encode(samples)
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	if len(data) != len(samples)*3 {
		t.Fatalf("output size = %d, want %d", len(data), len(samples)*3)
	}

	stream, err := decode.NewStream(format, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewStream() failed: %v", err)
	}
	got := make([]int16, len(samples))
	n, err := stream.Read(got)
	if err != nil && err != io.EOF {
		t.Fatalf("Read() failed: %v", err)
	}
	if n != len(samples) {
		t.Fatalf("decoded %d samples, want %d", n, len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("Sample %d: got %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestFilePadsLastBlock(t *testing.T) {
	encoder, err := NewPCM(audio.Format{Codec: "pcm", SampleRate: 44100, Channels: 2, BitDepth: 16})
	if err != nil {
		t.Fatalf("NewPCM() failed: %v", err)
	}

	data, err := File(encoder, []int16{1, 2, 3, 4, 5}, 4)
	if err != nil {
		t.Fatalf("File() failed: %v", err)
	}
	if len(data) != 8*2 {
		t.Fatalf("File() size = %d, want 16", len(data))
	}
	if tail := binary.LittleEndian.Uint16(data[10:]); tail != 0 {
		t.Errorf("padding sample = %d, want 0", tail)
	}

	if _, err := File(encoder, []int16{1}, 0); err == nil {
		t.Error("File() with zero block size should fail")
	}
}
