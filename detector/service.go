// Package detector turns an encoded image into an annotated image plus
// structured detections.
package detector

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
	"time"

	"github.com/Tutortoise/food-detection-service/annotate"
	"github.com/Tutortoise/food-detection-service/detections"
	"github.com/Tutortoise/food-detection-service/labels"
	"github.com/Tutortoise/food-detection-service/models"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const JPEGQuality = 85

// Scorer is the pretrained model: it returns boxes in the coordinates of
// img with confidence above threshold.
type Scorer interface {
	Score(ctx context.Context, img image.Image, threshold float32, timings *models.ProcessingTimings) ([]detections.Row, error)
}

type Service struct {
	scorer    Scorer
	labels    *labels.Table
	maxPixels int64
}

type Option func(*Service)

// WithMaxPixels rejects images with more than n pixels before decoding.
func WithMaxPixels(n int64) Option {
	return func(s *Service) {
		s.maxPixels = n
	}
}

func NewService(scorer Scorer, table *labels.Table, opts ...Option) *Service {
	s := &Service{
		scorer: scorer,
		labels: table,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PredictBase64 decodes base64 text and runs Predict on the result.
func (s *Service) PredictBase64(ctx context.Context, encoded string, threshold float32, timings *models.ProcessingTimings) (*image.NRGBA, []models.Detection, error) {
	raw, err := base64.StdEncoding.DecodeString(stripWhitespace(encoded))
	if err != nil {
		return nil, nil, &ProcessingError{Message: MsgPredictFailed, Cause: err}
	}
	return s.Predict(ctx, raw, threshold, timings)
}

// Predict decodes imageBytes, scores it and returns an annotated RGB copy
// together with one record per detection in model output order.
func (s *Service) Predict(ctx context.Context, imageBytes []byte, threshold float32, timings *models.ProcessingTimings) (*image.NRGBA, []models.Detection, error) {
	if timings == nil {
		timings = &models.ProcessingTimings{}
	}

	annotated, dets, err := s.predict(ctx, imageBytes, threshold, timings)
	if err != nil {
		return nil, nil, &ProcessingError{Message: MsgPredictFailed, Cause: err}
	}
	return annotated, dets, nil
}

func (s *Service) predict(ctx context.Context, imageBytes []byte, threshold float32, timings *models.ProcessingTimings) (*image.NRGBA, []models.Detection, error) {
	decodeStart := time.Now()
	img, err := s.decode(imageBytes)
	timings.ImageDecode = time.Since(decodeStart)
	if err != nil {
		return nil, nil, err
	}

	rgb := ToRGB(img)

	rows, err := s.scorer.Score(ctx, rgb, threshold, timings)
	if err != nil {
		return nil, nil, err
	}

	annotateStart := time.Now()
	dets := make([]models.Detection, 0, len(rows))
	boxes := make([]annotate.Box, 0, len(rows))
	for _, row := range rows {
		name, err := s.labels.Name(row.ClassID)
		if err != nil {
			return nil, nil, err
		}
		if row.X1 >= row.X2 || row.Y1 >= row.Y2 {
			return nil, nil, fmt.Errorf("degenerate box %v,%v,%v,%v", row.X1, row.Y1, row.X2, row.Y2)
		}

		confidence := float64(row.Confidence)
		dets = append(dets, models.Detection{
			Class:      name,
			Confidence: math.Min(1, math.Max(0, confidence)),
			BBox:       [4]float64{float64(row.X1), float64(row.Y1), float64(row.X2), float64(row.Y2)},
		})
		boxes = append(boxes, annotate.Box{
			X1:         int(row.X1),
			Y1:         int(row.Y1),
			X2:         int(row.X2),
			Y2:         int(row.Y2),
			Label:      name,
			Confidence: confidence,
		})
	}

	annotated := imaging.Clone(rgb)
	annotate.Draw(annotated, boxes)
	timings.Annotate = time.Since(annotateStart)

	return annotated, dets, nil
}

func (s *Service) decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.New("cannot identify image file: empty payload")
	}

	if s.maxPixels > 0 {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("cannot identify image file: %w", err)
		}
		if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > s.maxPixels {
			return nil, fmt.Errorf("image size %dx%d exceeds limit of %d pixels", cfg.Width, cfg.Height, s.maxPixels)
		}
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("cannot identify image file: %w", err)
	}
	return img, nil
}

// ToRGB returns an opaque 8-bit RGB copy of img anchored at the origin.
// Alpha is discarded, not composited.
func ToRGB(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

// Encode serialises img as JPEG and returns it as base64 text.
func Encode(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return "", &ProcessingError{Message: MsgEncodeFailed, Cause: err}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
}
