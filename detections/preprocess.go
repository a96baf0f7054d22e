package detections

import (
	"image"
	"runtime"
	"sync"
)

// Preprocessor converts a Size x Size canvas into a CHW float32 tensor
// normalised to [0,1].
type Preprocessor struct {
	size       int
	numWorkers int
}

func NewPreprocessor(size int) *Preprocessor {
	workers := runtime.GOMAXPROCS(0)
	if workers > size {
		workers = size
	}
	return &Preprocessor{
		size:       size,
		numWorkers: workers,
	}
}

// Process fills dst, which must hold 3*size*size values.
func (p *Preprocessor) Process(img *image.NRGBA, dst []float32) {
	channelSize := p.size * p.size
	rowsPerWorker := p.size / p.numWorkers

	var wg sync.WaitGroup
	wg.Add(p.numWorkers)

	for w := 0; w < p.numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if w == p.numWorkers-1 {
			endRow = p.size
		}

		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				src := img.Pix[y*img.Stride:]
				offset := y * p.size
				for x := 0; x < p.size; x++ {
					i := offset + x
					px := src[x*4 : x*4+3]
					dst[i] = float32(px[0]) / 255.0
					dst[channelSize+i] = float32(px[1]) / 255.0
					dst[channelSize*2+i] = float32(px[2]) / 255.0
				}
			}
		}(startRow, endRow)
	}

	wg.Wait()
}
