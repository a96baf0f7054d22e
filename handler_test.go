package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Tutortoise/food-detection-service/detections"
	"github.com/Tutortoise/food-detection-service/detector"
	"github.com/Tutortoise/food-detection-service/labels"
	"github.com/Tutortoise/food-detection-service/models"

	"github.com/disintegration/imaging"
)

type stubScorer struct {
	rows   []detections.Row
	err    error
	panics bool
}

func (s *stubScorer) Score(_ context.Context, _ image.Image, _ float32, _ *models.ProcessingTimings) ([]detections.Row, error) {
	if s.panics {
		panic("scorer exploded")
	}
	return s.rows, s.err
}

type stubPool struct {
	stats PoolStats
}

func (p stubPool) GetMetrics() PoolStats {
	return p.stats
}

func newTestState(scorer detector.Scorer) *AppState {
	return &AppState{
		Detector:     detector.NewService(scorer, labels.Default()),
		Pool:         stubPool{stats: PoolStats{Size: 2, TotalAcquired: 7}},
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		MaxBodyBytes: 1 << 20,
	}
}

func encodedImage(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: uint8(x), B: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func eventFor(t *testing.T, payload any) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return data
}

func TestHandleEventMissingImage(t *testing.T) {
	state := newTestState(&stubScorer{})

	tests := []struct {
		name  string
		event []byte
	}{
		{"empty object", []byte(`{}`)},
		{"other keys", []byte(`{"image_name":"lunch.jpg"}`)},
		{"envelope without image", eventFor(t, map[string]string{"body": `{"image_name":"lunch.jpg"}`})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := state.HandleEvent(context.Background(), tt.event)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			want := `{"error":"Missing image_data in request"}`
			if resp.Body != want {
				t.Errorf("body = %s, want %s", resp.Body, want)
			}
		})
	}
}

func TestHandleEventSuccess(t *testing.T) {
	scorer := &stubScorer{rows: []detections.Row{
		{X1: 2, Y1: 3, X2: 20, Y2: 18, Confidence: 0.91, ClassID: 10},
		{X1: 10, Y1: 1, X2: 30, Y2: 22, Confidence: 0.04, ClassID: 0},
	}}
	state := newTestState(scorer)

	event := eventFor(t, map[string]string{"image_data": encodedImage(t, 32, 24)})
	resp := state.HandleEvent(context.Background(), event)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, resp.Body)
	}

	var body models.SuccessBody
	if err := json.Unmarshal([]byte(resp.Body), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body.Success {
		t.Error("success = false")
	}
	if body.DetailsCount != len(body.Details) || body.DetailsCount != 2 {
		t.Errorf("details_count = %d, details = %d", body.DetailsCount, len(body.Details))
	}
	if body.Msg != "Found 2 items" {
		t.Errorf("msg = %q", body.Msg)
	}
	if body.Details[0].Class != "hvorost" || body.Details[1].Class != "achichuk" {
		t.Errorf("classes = %q, %q", body.Details[0].Class, body.Details[1].Class)
	}

	raw, err := base64.StdEncoding.DecodeString(body.Image)
	if err != nil {
		t.Fatalf("image is not base64: %v", err)
	}
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode returned image: %v", err)
	}
	if format != "jpeg" || img.Bounds().Dx() != 32 || img.Bounds().Dy() != 24 {
		t.Errorf("got %s %v", format, img.Bounds())
	}
}

func TestHandleEventNoDetections(t *testing.T) {
	state := newTestState(&stubScorer{})

	resp := state.HandleEvent(context.Background(), eventFor(t, map[string]string{"image_data": encodedImage(t, 8, 8)}))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, resp.Body)
	}
	if !strings.Contains(resp.Body, `"details":[]`) || !strings.Contains(resp.Body, `"msg":"Found 0 items"`) {
		t.Errorf("body = %s", resp.Body)
	}
}

func TestHandleEventUnwrapsBody(t *testing.T) {
	state := newTestState(&stubScorer{})

	inner := eventFor(t, map[string]string{"image_data": encodedImage(t, 8, 8)})
	event := eventFor(t, map[string]string{"body": string(inner)})

	resp := state.HandleEvent(context.Background(), event)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, resp.Body)
	}
}

func TestHandleEventLogsRequestMetadata(t *testing.T) {
	var logs bytes.Buffer
	state := newTestState(&stubScorer{})
	state.Logger = slog.New(slog.NewTextHandler(&logs, nil))

	event := eventFor(t, map[string]any{
		"image_data":   encodedImage(t, 8, 8),
		"image_name":   "lunch.jpg",
		"content_type": "image/jpeg",
	})
	if resp := state.HandleEvent(context.Background(), event); resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, resp.Body)
	}

	out := logs.String()
	if !strings.Contains(out, "image_name=lunch.jpg") || !strings.Contains(out, "content_type=image/jpeg") {
		t.Errorf("request metadata missing from logs: %q", out)
	}
}

func TestOptionalString(t *testing.T) {
	tests := []struct {
		raw  json.RawMessage
		want string
	}{
		{nil, ""},
		{json.RawMessage(`"menu.png"`), "menu.png"},
		{json.RawMessage(`null`), ""},
		{json.RawMessage(`42`), ""},
	}
	for _, tt := range tests {
		if got := optionalString(tt.raw); got != tt.want {
			t.Errorf("optionalString(%s) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestHandleEventFailures(t *testing.T) {
	tests := []struct {
		name    string
		scorer  *stubScorer
		event   []byte
		wantErr string
	}{
		{
			name:    "invalid base64",
			scorer:  &stubScorer{},
			event:   []byte(`{"image_data":"!!!not base64!!!"}`),
			wantErr: "Error processing image",
		},
		{
			name:    "not an image",
			scorer:  &stubScorer{},
			event:   eventFor(t, map[string]string{"image_data": base64.StdEncoding.EncodeToString([]byte("plain text"))}),
			wantErr: "cannot identify image file",
		},
		{
			name:    "null image",
			scorer:  &stubScorer{},
			event:   []byte(`{"image_data":null}`),
			wantErr: "image_data must be a string",
		},
		{
			name:    "numeric image",
			scorer:  &stubScorer{},
			event:   []byte(`{"image_data":12}`),
			wantErr: "image_data must be a string",
		},
		{
			name:    "not json",
			scorer:  &stubScorer{},
			event:   []byte(`image_data=abc`),
			wantErr: "invalid request payload",
		},
		{
			name:    "array payload",
			scorer:  &stubScorer{},
			event:   []byte(`[1,2]`),
			wantErr: "invalid request payload",
		},
		{
			name:    "body not a string",
			scorer:  &stubScorer{},
			event:   []byte(`{"body":{"image_data":"abc"}}`),
			wantErr: "body must be a JSON string",
		},
		{
			name:    "model failure",
			scorer:  &stubScorer{err: errors.New("inference failed")},
			wantErr: "inference failed",
		},
		{
			name:    "panic",
			scorer:  &stubScorer{panics: true},
			wantErr: "panic: scorer exploded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := tt.event
			if event == nil {
				event = eventFor(t, map[string]string{"image_data": encodedImage(t, 8, 8)})
			}

			resp := newTestState(tt.scorer).HandleEvent(context.Background(), event)
			if resp.StatusCode != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500 (body %s)", resp.StatusCode, resp.Body)
			}

			var body models.FailureBody
			if err := json.Unmarshal([]byte(resp.Body), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Success {
				t.Error("success = true")
			}
			if body.Msg != "Error processing the image" {
				t.Errorf("msg = %q", body.Msg)
			}
			if !strings.Contains(body.Error, tt.wantErr) {
				t.Errorf("error = %q, want substring %q", body.Error, tt.wantErr)
			}
		})
	}
}

func TestInvocationRoute(t *testing.T) {
	srv := httptest.NewServer(newTestState(&stubScorer{}).Router())
	defer srv.Close()

	res, err := http.Post(srv.URL+InvocationsPath, "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("http status = %d, want 200", res.StatusCode)
	}
	var envelope models.Response
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.StatusCode != http.StatusBadRequest {
		t.Errorf("statusCode = %d, want 400", envelope.StatusCode)
	}
}

func TestPredictRoute(t *testing.T) {
	srv := httptest.NewServer(newTestState(&stubScorer{}).Router())
	defer srv.Close()

	res, err := http.Post(srv.URL+"/predict", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("http status = %d, want 400", res.StatusCode)
	}
	data, _ := io.ReadAll(res.Body)
	if string(data) != `{"error":"Missing image_data in request"}` {
		t.Errorf("body = %s", data)
	}
}

func TestPredictRouteBodyTooLarge(t *testing.T) {
	state := newTestState(&stubScorer{})
	state.MaxBodyBytes = 16

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{"image_data":"`+strings.Repeat("A", 64)+`"}`))
	state.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "request body too large") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestMonitoringRoutes(t *testing.T) {
	router := newTestState(&stubScorer{}).Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("health: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	var stats PoolStats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if stats.Size != 2 || stats.TotalAcquired != 7 {
		t.Errorf("metrics = %+v", stats)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/predict", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /predict status = %d, want 405", rec.Code)
	}
}

func TestLambdaHandler(t *testing.T) {
	state := newTestState(&stubScorer{})

	resp, err := state.LambdaHandler(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("statusCode = %d, want 400", resp.StatusCode)
	}
}
