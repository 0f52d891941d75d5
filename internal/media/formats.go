// Package media manages uploaded source files: storage under the managed
// media directory, audio analysis (duration + peak envelope) for waveform
// rendering, and tag metadata extraction.
package media

import (
	"path/filepath"
	"strings"
)

// Kind distinguishes what the engine can do with an uploaded file.
type Kind int

const (
	KindUnsupported Kind = iota
	KindAudio
	KindMIDI
)

// audioExtensions are the audio formats accepted for upload.
var audioExtensions = map[string]bool{
	".wav":  true,
	".flac": true,
	".mp3":  true,
	".ogg":  true,
	".aac":  true,
	".aiff": true,
}

// midiExtensions are the MIDI formats accepted for upload.
var midiExtensions = map[string]bool{
	".mid":  true,
	".midi": true,
}

// Classify maps a filename to its upload kind by extension.
func Classify(filename string) Kind {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case audioExtensions[ext]:
		return KindAudio
	case midiExtensions[ext]:
		return KindMIDI
	default:
		return KindUnsupported
	}
}

// Format returns the extension without the dot, lowercased, used as the
// AudioClip source_format field.
func Format(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}
