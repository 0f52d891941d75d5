package media

import (
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/dhowden/tag"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"

	"github.com/thestuu/engine/internal/logging"
)

var logger = logging.ForService("media")

// PeakBuckets is the fixed length of the waveform envelope returned by
// Analyze, matching what clients render in a clip header regardless of
// source length.
const PeakBuckets = 200

// Analysis is what the engine learns about an uploaded source: enough to
// populate an AudioClip plus tag
// metadata to prefill source_name.
type Analysis struct {
	DurationSeconds float64
	Peaks           []float64
	Title           string
	MIMEType        string
}

// Analyze inspects an uploaded audio file. WAV and FLAC are fully decoded
// for duration and the peak envelope; the other accepted formats
// (mp3/ogg/aac/aiff) only get tag metadata: no duration and no peak
// envelope are computed for them, and the engine imports them by reference.
func Analyze(path string) (*Analysis, error) {
	a := &Analysis{}
	readTags(path, a)

	switch Format(path) {
	case "wav":
		if err := analyzeWAV(path, a); err != nil {
			return nil, err
		}
	case "flac":
		if err := analyzeFLAC(path, a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// readTags best-effort extracts title/mime from embedded metadata. Many
// uploads (raw bounces, field recordings) carry none; that is not an error.
func readTags(path string, a *Analysis) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		return
	}
	a.Title = meta.Title()
	switch meta.FileType() {
	case tag.MP3:
		a.MIMEType = "audio/mpeg"
	case tag.FLAC:
		a.MIMEType = "audio/flac"
	case tag.OGG:
		a.MIMEType = "audio/ogg"
	case tag.M4A:
		a.MIMEType = "audio/aac"
	}
}

func analyzeWAV(path string, a *Analysis) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("media: open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return fmt.Errorf("media: %s is not a valid WAV file", path)
	}

	var divisor float64
	switch dec.BitDepth {
	case 8:
		divisor = 128.0
	case 16:
		divisor = 32768.0
	case 24:
		divisor = 8388608.0
	case 32:
		divisor = 2147483648.0
	default:
		return fmt.Errorf("media: unsupported WAV bit depth %d", dec.BitDepth)
	}

	acc := newPeakAccumulator()
	buf := &audio.IntBuffer{
		Data:   make([]int, 8192),
		Format: &audio.Format{SampleRate: int(dec.SampleRate), NumChannels: int(dec.NumChans)},
	}
	totalFrames := 0
	channels := int(dec.NumChans)
	if channels == 0 {
		channels = 1
	}
	for {
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return fmt.Errorf("media: decode wav: %w", err)
		}
		if n == 0 {
			break
		}
		for _, s := range buf.Data[:n] {
			acc.add(math.Abs(float64(s)) / divisor)
		}
		totalFrames += n / channels
	}

	if dec.SampleRate > 0 {
		a.DurationSeconds = float64(totalFrames) / float64(dec.SampleRate)
	}
	a.Peaks = acc.finish()
	if a.MIMEType == "" {
		a.MIMEType = "audio/wav"
	}
	logSource(path, "wav", a)
	return nil
}

func analyzeFLAC(path string, a *Analysis) error {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return fmt.Errorf("media: parse flac: %w", err)
	}
	defer stream.Close()

	info := stream.Info
	if info.SampleRate > 0 && info.NSamples > 0 {
		a.DurationSeconds = float64(info.NSamples) / float64(info.SampleRate)
	}
	divisor := math.Pow(2, float64(info.BitsPerSample-1))

	acc := newPeakAccumulator()
	for {
		frame, err := stream.ParseNext()
		if err != nil {
			break // io.EOF or a trailing-frame error; envelope is best-effort
		}
		for _, sub := range frame.Subframes {
			for _, s := range sub.Samples {
				acc.add(math.Abs(float64(s)) / divisor)
			}
		}
	}

	a.Peaks = acc.finish()
	if a.MIMEType == "" {
		a.MIMEType = "audio/flac"
	}
	logSource(path, "flac", a)
	return nil
}

func logSource(path, format string, a *Analysis) {
	logger.Debug("source analysed", "path", path, "format", format,
		slog.Float64("duration_sec", a.DurationSeconds), "peaks", len(a.Peaks))
}

// peakAccumulator builds a fixed-size envelope without knowing the sample
// count up front: it accumulates into growing buckets and re-bins by
// halving whenever the bucket list would exceed 2*PeakBuckets.
type peakAccumulator struct {
	buckets      []float64
	perBucket    int
	currentCount int
}

func newPeakAccumulator() *peakAccumulator {
	return &peakAccumulator{perBucket: 256}
}

func (p *peakAccumulator) add(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	if v > 1 {
		v = 1
	}
	if len(p.buckets) == 0 || p.currentCount >= p.perBucket {
		p.buckets = append(p.buckets, 0)
		p.currentCount = 0
		if len(p.buckets) > 2*PeakBuckets {
			p.rebin()
		}
	}
	last := len(p.buckets) - 1
	if v > p.buckets[last] {
		p.buckets[last] = v
	}
	p.currentCount++
}

func (p *peakAccumulator) rebin() {
	half := make([]float64, 0, len(p.buckets)/2+1)
	for i := 0; i < len(p.buckets); i += 2 {
		v := p.buckets[i]
		if i+1 < len(p.buckets) && p.buckets[i+1] > v {
			v = p.buckets[i+1]
		}
		half = append(half, v)
	}
	p.buckets = half
	p.perBucket *= 2
	p.currentCount = p.perBucket // force a fresh bucket on next add
}

// finish resamples the accumulated buckets to exactly PeakBuckets entries
// (or fewer for very short sources), all clamped to [0,1].
func (p *peakAccumulator) finish() []float64 {
	if len(p.buckets) == 0 {
		return nil
	}
	n := PeakBuckets
	if len(p.buckets) < n {
		n = len(p.buckets)
	}
	out := make([]float64, n)
	for i := range out {
		lo := i * len(p.buckets) / n
		hi := (i + 1) * len(p.buckets) / n
		if hi <= lo {
			hi = lo + 1
		}
		for _, v := range p.buckets[lo:hi] {
			if v > out[i] {
				out[i] = v
			}
		}
		if out[i] > 1 {
			out[i] = 1
		}
	}
	return out
}
