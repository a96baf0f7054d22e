package main

import (
	"fmt"

	"github.com/Tutortoise/food-detection-service/detections"

	ort "github.com/yalue/onnxruntime_go"
)

type sessionConfig struct {
	ModelPath      string
	NumClasses     int
	IntraOpThreads int
	InterOpThreads int
}

// validateModel checks the model's declared I/O against the tensors we
// allocate. Dynamic dimensions (<= 0) are accepted.
func validateModel(cfg sessionConfig) error {
	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return fmt.Errorf("error reading model info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return fmt.Errorf("expected 1 input and 1 output, got %d and %d", len(inputs), len(outputs))
	}

	wantIn := []int64{1, 3, detections.InputSize, detections.InputSize}
	if err := matchShape(inputs[0].Name, inputs[0].Dimensions, wantIn); err != nil {
		return err
	}

	wantOut := []int64{1, int64(4 + cfg.NumClasses), int64(detections.NumAnchors(detections.InputSize))}
	if err := matchShape(outputs[0].Name, outputs[0].Dimensions, wantOut); err != nil {
		return fmt.Errorf("%w (label table has %d classes)", err, cfg.NumClasses)
	}
	return nil
}

func matchShape(name string, got ort.Shape, want []int64) error {
	if len(got) != len(want) {
		return fmt.Errorf("%s: shape %v, want %v", name, got, want)
	}
	for i := range want {
		if got[i] > 0 && got[i] != want[i] {
			return fmt.Errorf("%s: shape %v, want %v", name, got, want)
		}
	}
	return nil
}

func initSession(cfg sessionConfig) (*detections.ModelSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
		return nil, fmt.Errorf("error setting intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
		return nil, fmt.Errorf("error setting inter-op threads: %w", err)
	}

	numAnchors := detections.NumAnchors(detections.InputSize)
	inputShape := ort.NewShape(1, 3, detections.InputSize, detections.InputSize)
	outputShape := ort.NewShape(1, int64(4+cfg.NumClasses), int64(numAnchors))

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{detections.InputName},
		[]string{detections.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return detections.NewModelSession(session, inputTensor, outputTensor, cfg.NumClasses, numAnchors), nil
}
