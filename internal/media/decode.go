package media

import (
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
)

// PCM is a fully decoded source ready for the playback graph.
type PCM struct {
	SampleRate int
	// Channels holds per-channel sample data, 1 or 2 channels.
	Channels        [][]float32
	DurationSeconds float64
}

// Decode loads a WAV or FLAC file into memory for playback. Compressed
// formats are not decodable here; callers fall back to silence for them
// (the clip still occupies the timeline).
func Decode(path string) (*PCM, error) {
	switch Format(path) {
	case "wav":
		return decodeWAVPCM(path)
	case "flac":
		return decodeFLACPCM(path)
	default:
		return nil, fmt.Errorf("media: no decoder for %q", Format(path))
	}
}

func decodeWAVPCM(path string) (*PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("media: open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("media: %s is not a valid WAV file", path)
	}

	var divisor float32
	switch dec.BitDepth {
	case 8:
		divisor = 128
	case 16:
		divisor = 32768
	case 24:
		divisor = 8388608
	case 32:
		divisor = 2147483648
	default:
		return nil, fmt.Errorf("media: unsupported WAV bit depth %d", dec.BitDepth)
	}

	channels := int(dec.NumChans)
	if channels < 1 {
		channels = 1
	}
	if channels > 2 {
		channels = 2
	}
	pcm := &PCM{SampleRate: int(dec.SampleRate), Channels: make([][]float32, channels)}

	buf := &audio.IntBuffer{
		Data:   make([]int, 8192),
		Format: &audio.Format{SampleRate: int(dec.SampleRate), NumChannels: int(dec.NumChans)},
	}
	srcChans := int(dec.NumChans)
	if srcChans < 1 {
		srcChans = 1
	}
	for {
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return nil, fmt.Errorf("media: decode wav: %w", err)
		}
		if n == 0 {
			break
		}
		for i := 0; i+srcChans <= n; i += srcChans {
			for ch := 0; ch < channels; ch++ {
				pcm.Channels[ch] = append(pcm.Channels[ch], float32(buf.Data[i+ch])/divisor)
			}
		}
	}

	if pcm.SampleRate > 0 && len(pcm.Channels[0]) > 0 {
		pcm.DurationSeconds = float64(len(pcm.Channels[0])) / float64(pcm.SampleRate)
	}
	return pcm, nil
}

func decodeFLACPCM(path string) (*PCM, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("media: parse flac: %w", err)
	}
	defer stream.Close()

	info := stream.Info
	channels := int(info.NChannels)
	if channels < 1 {
		channels = 1
	}
	if channels > 2 {
		channels = 2
	}
	divisor := float32(math.Pow(2, float64(info.BitsPerSample-1)))

	pcm := &PCM{SampleRate: int(info.SampleRate), Channels: make([][]float32, channels)}
	for {
		frame, err := stream.ParseNext()
		if err != nil {
			break
		}
		for ch := 0; ch < channels && ch < len(frame.Subframes); ch++ {
			for _, s := range frame.Subframes[ch].Samples {
				pcm.Channels[ch] = append(pcm.Channels[ch], float32(s)/divisor)
			}
		}
	}

	if pcm.SampleRate > 0 && len(pcm.Channels[0]) > 0 {
		pcm.DurationSeconds = float64(len(pcm.Channels[0])) / float64(pcm.SampleRate)
	}
	return pcm, nil
}
