package recorder

import (
	"fmt"
	"os"
	"time"

	"github.com/go-audio/wav"
)

// MinCaptureBytes is the smallest file accepted as a real recording; a WAV
// below this is header-only noise from a capture stopped immediately.
const MinCaptureBytes = 1024

// Info summarizes a finished capture file.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	DataBytes  int64
	Duration   time.Duration
}

// Probe validates a finished capture and reports its shape. It fails for a
// file that is missing, smaller than MinCaptureBytes, or not decodable WAV,
// so callers can discard unusable audio before spending a transcription
// round-trip on it.
func Probe(path string) (Info, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Info{}, fmt.Errorf("stat capture file: %w", err)
	}
	if fi.Size() < MinCaptureBytes {
		return Info{}, fmt.Errorf("capture file %s too small (%d bytes)", path, fi.Size())
	}

	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("open capture file: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return Info{}, fmt.Errorf("capture file %s is not a valid wav", path)
	}
	dur, err := dec.Duration()
	if err != nil {
		return Info{}, fmt.Errorf("derive wav duration: %w", err)
	}
	// PCMLen reports 0 until the decoder has been forwarded to the data
	// chunk.
	if err := dec.FwdToPCM(); err != nil {
		return Info{}, fmt.Errorf("locate wav data chunk: %w", err)
	}
	return Info{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
		DataBytes:  dec.PCMLen(),
		Duration:   dur,
	}, nil
}
