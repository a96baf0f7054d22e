package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Tutortoise/food-detection-service/detections"
	"github.com/Tutortoise/food-detection-service/detector"
	"github.com/Tutortoise/food-detection-service/logging"
	"github.com/Tutortoise/food-detection-service/models"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mdobak/go-xerrors"
)

// InvocationsPath is where the Lambda runtime interface emulator accepts events.
const InvocationsPath = "/2015-03-31/functions/function/invocations"

type metricsSource interface {
	GetMetrics() PoolStats
}

type AppState struct {
	Detector     *detector.Service
	Pool         metricsSource
	Logger       *slog.Logger
	MaxBodyBytes int64
}

var errNotObject = errors.New("payload must be a JSON object")

// HandleEvent is the single request boundary: every failure, including a
// panic, leaves as a structured response.
func (s *AppState) HandleEvent(ctx context.Context, event []byte) (resp models.Response) {
	startTotal := time.Now()
	timings := &models.ProcessingTimings{RequestID: requestID(ctx)}

	defer func() {
		if r := recover(); r != nil {
			resp = s.fail(ctx, timings, fmt.Errorf("panic: %v", r))
		}
	}()

	payload, err := unwrapEnvelope(event)
	if err != nil {
		return s.fail(ctx, timings, err)
	}

	rawImage, ok := payload["image_data"]
	if !ok {
		s.Logger.InfoContext(ctx, "rejected request", slog.String("requestID", timings.RequestID), slog.String("reason", MsgMissingImage))
		return jsonResponse(http.StatusBadRequest, models.ValidationBody{Error: MsgMissingImage})
	}

	req := models.DetectionRequest{
		ImageName:   optionalString(payload["image_name"]),
		ContentType: optionalString(payload["content_type"]),
	}
	if err := decodeImageField(rawImage, &req.ImageData); err != nil {
		return s.fail(ctx, timings, err)
	}
	s.Logger.InfoContext(ctx, "detection request",
		slog.String("requestID", timings.RequestID),
		slog.String("image_name", req.ImageName),
		slog.String("content_type", req.ContentType),
		slog.Int("image_data_len", len(req.ImageData)))

	annotated, details, err := s.Detector.PredictBase64(ctx, req.ImageData, detections.DefaultConfThreshold, timings)
	if err != nil {
		return s.fail(ctx, timings, err)
	}

	encodeStart := time.Now()
	encoded, err := detector.Encode(annotated)
	timings.Encode = time.Since(encodeStart)
	if err != nil {
		return s.fail(ctx, timings, err)
	}

	timings.Total = time.Since(startTotal)
	logging.LogTimings(ctx, s.Logger, timings)

	return jsonResponse(http.StatusOK, models.SuccessBody{
		Success:      true,
		Image:        encoded,
		Details:      details,
		DetailsCount: len(details),
		Msg:          fmt.Sprintf(MsgFoundFormat, len(details)),
	})
}

func (s *AppState) fail(ctx context.Context, timings *models.ProcessingTimings, cause error) models.Response {
	err := xerrors.New(cause)
	s.Logger.ErrorContext(ctx, "failed to process image",
		slog.String("requestID", timings.RequestID),
		slog.Any("error", err))

	return jsonResponse(http.StatusInternalServerError, models.FailureBody{
		Success: false,
		Error:   cause.Error(),
		Msg:     MsgProcessingFailed,
	})
}

// unwrapEnvelope returns the payload object, unpacking a JSON-string body
// field when the event is a proxy envelope.
func unwrapEnvelope(event []byte) (map[string]json.RawMessage, error) {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(event, &outer); err != nil {
		return nil, fmt.Errorf("invalid request payload: %w", err)
	}
	if outer == nil {
		return nil, errNotObject
	}

	body, ok := outer["body"]
	if !ok {
		return outer, nil
	}

	var inner string
	if err := json.Unmarshal(body, &inner); err != nil {
		return nil, fmt.Errorf("body must be a JSON string: %w", err)
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(inner), &payload); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if payload == nil {
		return nil, errNotObject
	}
	return payload, nil
}

func decodeImageField(raw json.RawMessage, dst *string) error {
	var value *string
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("image_data must be a string: %w", err)
	}
	if value == nil {
		return errors.New("image_data must be a string, got null")
	}
	*dst = *value
	return nil
}

// optionalString reads a descriptive string field; anything else reads as "".
func optionalString(raw json.RawMessage) string {
	var value string
	if raw == nil || json.Unmarshal(raw, &value) != nil {
		return ""
	}
	return value
}

func jsonResponse(status int, body any) models.Response {
	data, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		data, _ = json.Marshal(models.FailureBody{Error: err.Error(), Msg: MsgProcessingFailed})
	}
	return models.Response{StatusCode: status, Body: string(data)}
}

func requestID(ctx context.Context) string {
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return lc.AwsRequestID
	}
	return uuid.New().String()
}

// LambdaHandler adapts HandleEvent to the aws-lambda-go handler signature.
func (s *AppState) LambdaHandler(ctx context.Context, event json.RawMessage) (models.Response, error) {
	return s.HandleEvent(ctx, event), nil
}

func (s *AppState) readEvent(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body := http.MaxBytesReader(w, r.Body, s.MaxBodyBytes)
	defer body.Close()
	return io.ReadAll(body)
}

// handleInvocation mirrors the runtime emulator: the envelope itself is
// the HTTP body and the transport status is always 200.
func (s *AppState) handleInvocation(w http.ResponseWriter, r *http.Request) {
	var resp models.Response
	event, err := s.readEvent(w, r)
	if err != nil {
		resp = s.fail(r.Context(), &models.ProcessingTimings{RequestID: requestID(r.Context())}, err)
	} else {
		resp = s.HandleEvent(r.Context(), event)
	}

	writeJSON(w, http.StatusOK, resp)
}

// handlePredict mirrors an API gateway proxy: statusCode becomes the HTTP
// status and body becomes the HTTP body.
func (s *AppState) handlePredict(w http.ResponseWriter, r *http.Request) {
	var resp models.Response
	event, err := s.readEvent(w, r)
	if err != nil {
		resp = s.fail(r.Context(), &models.ProcessingTimings{RequestID: requestID(r.Context())}, err)
	} else {
		resp = s.HandleEvent(r.Context(), event)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	io.WriteString(w, resp.Body)
}

func (s *AppState) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.Pool == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no session pool"})
		return
	}
	writeJSON(w, http.StatusOK, s.Pool.GetMetrics())
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
}

func (s *AppState) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(InvocationsPath, s.handleInvocation).Methods("POST")
	r.HandleFunc("/predict", s.handlePredict).Methods("POST")
	s.addMonitoringRoutes(r)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
