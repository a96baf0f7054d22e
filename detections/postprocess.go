package detections

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
)

// Row is one detection in original image coordinates.
type Row struct {
	X1, Y1, X2, Y2 float32
	Confidence     float32
	ClassID        int
}

type candidate struct {
	box        [4]float32
	confidence float32
	classID    int
	anchor     int
}

// decodePredictions scans a [4+numClasses][numAnchors] output and returns
// every anchor whose best class score is above threshold, best first.
func decodePredictions(predictions []float32, numClasses, numAnchors int, threshold float32) ([]candidate, error) {
	expectedSize := (4 + numClasses) * numAnchors
	if len(predictions) != expectedSize {
		return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(predictions), expectedSize)
	}

	const chunkSize = 512
	numWorkers := runtime.NumCPU()
	jobs := make(chan int, numWorkers)
	results := make(chan []candidate, numWorkers)

	var wg sync.WaitGroup

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]candidate, 0, 64)

			for start := range jobs {
				end := start + chunkSize
				if end > numAnchors {
					end = numAnchors
				}

				for i := start; i < end; i++ {
					best, bestClass := float32(0), -1
					for c := 0; c < numClasses; c++ {
						score := predictions[(4+c)*numAnchors+i]
						if bestClass < 0 || score > best {
							best, bestClass = score, c
						}
					}
					// NaN scores fail this comparison and are dropped.
					if !(best > threshold) {
						continue
					}

					cx := predictions[i]
					cy := predictions[numAnchors+i]
					w := predictions[2*numAnchors+i]
					h := predictions[3*numAnchors+i]
					local = append(local, candidate{
						box:        [4]float32{cx - w/2, cy - h/2, cx + w/2, cy + h/2},
						confidence: best,
						classID:    bestClass,
						anchor:     i,
					})
				}
			}

			if len(local) > 0 {
				results <- local
			}
		}()
	}

	go func() {
		for i := 0; i < numAnchors; i += chunkSize {
			jobs <- i
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	candidates := make([]candidate, 0, 64)
	for chunk := range results {
		candidates = append(candidates, chunk...)
	}

	sortByConfidence(candidates)
	if len(candidates) > MaxCandidates {
		candidates = candidates[:MaxCandidates]
	}
	return candidates, nil
}

func sortByConfidence(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].confidence != candidates[j].confidence {
			return candidates[i].confidence > candidates[j].confidence
		}
		return candidates[i].anchor < candidates[j].anchor
	})
}

// nonMaxSuppression keeps the best box of every overlapping group of the
// same class. Input must be sorted best first.
func nonMaxSuppression(candidates []candidate, iouThreshold float32, limit int) []candidate {
	kept := make([]candidate, 0, min(len(candidates), limit))
	suppressed := make([]bool, len(candidates))

	for i := range candidates {
		if suppressed[i] {
			continue
		}
		kept = append(kept, candidates[i])
		if len(kept) == limit {
			break
		}
		for j := i + 1; j < len(candidates); j++ {
			if suppressed[j] || candidates[j].classID != candidates[i].classID {
				continue
			}
			if calculateIOU(candidates[i].box, candidates[j].box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}

	return kept
}

func calculateIOU(box1, box2 [4]float32) float32 {
	x1 := max(box1[0], box2[0])
	y1 := max(box1[1], box2[1])
	x2 := min(box1[2], box2[2])
	y2 := min(box1[3], box2[3])

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	area1 := (box1[2] - box1[0]) * (box1[3] - box1[1])
	area2 := (box2[2] - box2[0]) * (box2[3] - box2[1])
	union := area1 + area2 - intersection
	if union <= 0 {
		return 0
	}

	return intersection / union
}

// toRows maps kept candidates back to image space, dropping boxes that
// collapse after clipping.
func toRows(kept []candidate, lb Letterbox) []Row {
	rows := make([]Row, 0, len(kept))
	for _, c := range kept {
		box := lb.Restore(c.box)
		if box[0] >= box[2] || box[1] >= box[3] {
			continue
		}
		rows = append(rows, Row{
			X1:         box[0],
			Y1:         box[1],
			X2:         box[2],
			Y2:         box[3],
			Confidence: c.confidence,
			ClassID:    c.classID,
		})
	}
	return rows
}

// Postprocess turns raw network output into detections on the original image.
func Postprocess(predictions []float32, numClasses, numAnchors int, threshold float32, lb Letterbox) ([]Row, error) {
	candidates, err := decodePredictions(predictions, numClasses, numAnchors, threshold)
	if err != nil {
		return nil, err
	}
	kept := nonMaxSuppression(candidates, IouThreshold, MaxDetections)
	return toRows(kept, lb), nil
}
