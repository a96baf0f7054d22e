package detections

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/Tutortoise/food-detection-service/models"

	ort "github.com/yalue/onnxruntime_go"
)

// ErrInference marks a failed network run. The session that produced it
// should not be reused.
var ErrInference = errors.New("model inference")

type ModelSession struct {
	Session      *ort.AdvancedSession
	Input        *ort.Tensor[float32]
	Output       *ort.Tensor[float32]
	NumClasses   int
	NumAnchors   int
	preprocessor *Preprocessor

	run        func() error
	inputData  []float32
	outputData []float32
}

func NewModelSession(session *ort.AdvancedSession, input, output *ort.Tensor[float32], numClasses, numAnchors int) *ModelSession {
	return &ModelSession{
		Session:      session,
		Input:        input,
		Output:       output,
		NumClasses:   numClasses,
		NumAnchors:   numAnchors,
		preprocessor: NewPreprocessor(InputSize),
		run:          session.Run,
		inputData:    input.GetData(),
		outputData:   output.GetData(),
	}
}

func (m *ModelSession) Destroy() {
	if m.Session != nil {
		m.Session.Destroy()
	}
	if m.Input != nil {
		m.Input.Destroy()
	}
	if m.Output != nil {
		m.Output.Destroy()
	}
}

// Detect runs one image through the network. The session must not be used
// concurrently.
func (m *ModelSession) Detect(img image.Image, threshold float32, timings *models.ProcessingTimings) ([]Row, error) {
	bounds := img.Bounds()

	letterboxStart := time.Now()
	lb := NewLetterbox(bounds.Dx(), bounds.Dy(), InputSize)
	canvas := lb.Apply(img)
	timings.Letterbox = time.Since(letterboxStart)

	prepStart := time.Now()
	m.preprocessor.Process(canvas, m.inputData)
	timings.Preprocess = time.Since(prepStart)

	inferStart := time.Now()
	if err := m.run(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}
	timings.Inference = time.Since(inferStart)

	postStart := time.Now()
	rows, err := Postprocess(m.outputData, m.NumClasses, m.NumAnchors, threshold, lb)
	if err != nil {
		return nil, fmt.Errorf("process predictions: %w", err)
	}
	timings.Postprocess = time.Since(postStart)

	return rows, nil
}

// SessionSource hands out sessions for exclusive use. Discard takes back a
// session that failed and must not be handed out again.
type SessionSource interface {
	Acquire(ctx context.Context) (*ModelSession, error)
	Release(session *ModelSession)
	Discard(session *ModelSession)
}

// Scorer runs detection on sessions borrowed from a SessionSource.
type Scorer struct {
	sessions SessionSource
}

func NewScorer(sessions SessionSource) *Scorer {
	return &Scorer{sessions: sessions}
}

func (s *Scorer) Score(ctx context.Context, img image.Image, threshold float32, timings *models.ProcessingTimings) ([]Row, error) {
	if timings == nil {
		timings = &models.ProcessingTimings{}
	}

	session, err := s.sessions.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}

	// A session whose run failed or panicked is in an unknown state.
	discard := true
	defer func() {
		if discard {
			s.sessions.Discard(session)
		} else {
			s.sessions.Release(session)
		}
	}()

	rows, err := session.Detect(img, threshold, timings)
	discard = errors.Is(err, ErrInference)
	return rows, err
}
