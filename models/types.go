package models

import "time"

// Detection is one labelled box in the output of a prediction.
type Detection struct {
	Class      string     `json:"class"`
	Confidence float64    `json:"top_confidence"`
	BBox       [4]float64 `json:"bbox"`
}

// DetectionRequest is the invocation payload. ImageName and ContentType
// are descriptive and only logged.
type DetectionRequest struct {
	ImageData   string `json:"image_data"`
	ImageName   string `json:"image_name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// Response is the envelope returned to the invoker.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

type SuccessBody struct {
	Success      bool        `json:"success"`
	Image        string      `json:"image"`
	Details      []Detection `json:"details"`
	DetailsCount int         `json:"details_count"`
	Msg          string      `json:"msg"`
}

type FailureBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Msg     string `json:"msg"`
}

type ValidationBody struct {
	Error string `json:"error"`
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Letterbox   time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Annotate    time.Duration
	Encode      time.Duration
	Total       time.Duration
}
