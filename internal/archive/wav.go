package archive

import (
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/vibrolab/daqbench/internal/acquisition/sources/pcm"
	"github.com/vibrolab/daqbench/internal/frames"
	"github.com/vibrolab/daqbench/internal/errors"
)

const wavBitDepth = 16

// ExportWAV writes block as 16-bit PCM. Samples are divided by fullScale
// before quantisation and clip at ±1; a fullScale of 0 is treated as 1.
func ExportWAV(w io.WriteSeeker, block frames.Block, sampleRate int, fullScale float64) error {
	if block.Channels <= 0 || sampleRate <= 0 {
		return errors.Newf("wav export of %d channels at %d Hz", block.Channels, sampleRate).
			Component("archive").
			Category(errors.CategoryValidation).
			Build()
	}
	if fullScale == 0 {
		fullScale = 1
	}

	data := make([]int, len(block.Data))
	for i, v := range block.Data {
		data[i] = int(pcm.Quantize(v / fullScale))
	}

	enc := wav.NewEncoder(w, sampleRate, wavBitDepth, block.Channels, 1)
	if err := enc.Write(&audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: block.Channels},
		SourceBitDepth: wavBitDepth,
	}); err != nil {
		return wrapIO(err, "write_wav")
	}
	if err := enc.Close(); err != nil {
		return wrapIO(err, "close_wav")
	}
	return nil
}
