package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for x := 0; x < 16; x++ {
		for y := 0; y < 16; y++ {
			img.Set(x, y, color.RGBA{uint8(x * 16), uint8(y * 16), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func TestValidateImage(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		wantMIME string
		wantErr  bool
	}{
		{"jpeg", testJPEG(t), "image/jpeg", false},
		{"png", testPNG(t), "image/png", false},
		{"empty", nil, "", true},
		{"garbage", []byte("definitely not an image"), "", true},
		{"truncated jpeg header", []byte{0xFF, 0xD8, 0xFF}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mime, err := ValidateImage(tt.data)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidImage) {
					t.Errorf("expected ErrInvalidImage, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if mime != tt.wantMIME {
				t.Errorf("expected %s, got %s", tt.wantMIME, mime)
			}
		})
	}
}

func faceServer(t *testing.T, status int, resp any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("failed to parse multipart form: %v", err)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file part: %v", err)
		}
		if got := r.FormValue("model"); got != "buffalo_l" {
			t.Errorf("expected model buffalo_l, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestDetectFace(t *testing.T) {
	img := testJPEG(t)

	tests := []struct {
		name    string
		status  int
		resp    any
		want    []float32
		wantErr error
		anyErr  bool
	}{
		{
			name:   "single face",
			status: http.StatusOK,
			resp: FaceResponse{FacesCount: 1, Faces: []FaceDetection{
				{Embedding: []float32{0.1, 0.2, 0.3}, DetScore: 0.9},
			}},
			want: []float32{0.1, 0.2, 0.3},
		},
		{
			name:   "most confident face wins",
			status: http.StatusOK,
			resp: FaceResponse{FacesCount: 2, Faces: []FaceDetection{
				{Embedding: []float32{1, 0}, DetScore: 0.6},
				{Embedding: []float32{0, 1}, DetScore: 0.95},
			}},
			want: []float32{0, 1},
		},
		{
			name:    "no faces",
			status:  http.StatusOK,
			resp:    FaceResponse{},
			wantErr: ErrNoFace,
		},
		{
			name:   "faces without embeddings",
			status: http.StatusOK,
			resp: FaceResponse{FacesCount: 1, Faces: []FaceDetection{
				{DetScore: 0.8},
			}},
			wantErr: ErrExtractionFailed,
		},
		{
			name:    "server rejects extraction",
			status:  http.StatusUnprocessableEntity,
			resp:    map[string]string{"detail": "landmarks not found"},
			wantErr: ErrExtractionFailed,
		},
		{
			name:    "server rejects image",
			status:  http.StatusBadRequest,
			resp:    map[string]string{"detail": "cannot decode"},
			wantErr: ErrInvalidImage,
		},
		{
			name:   "server failure",
			status: http.StatusInternalServerError,
			resp:   map[string]string{"detail": "boom"},
			anyErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := faceServer(t, tt.status, tt.resp)
			defer srv.Close()

			client := NewClient(srv.URL+"/", "buffalo_l")
			got, err := client.DetectFace(context.Background(), img)

			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			case tt.anyErr:
				if err == nil {
					t.Fatal("expected error")
				}
				if errors.Is(err, ErrNoFace) || errors.Is(err, ErrExtractionFailed) || errors.Is(err, ErrInvalidImage) {
					t.Errorf("server failure must not map to a detection outcome: %v", err)
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if len(got) != len(tt.want) {
					t.Fatalf("expected %v, got %v", tt.want, got)
				}
				for i := range got {
					if got[i] != tt.want[i] {
						t.Errorf("expected %v, got %v", tt.want, got)
						break
					}
				}
			}
		})
	}
}

func TestDetectFace_InvalidImageSkipsServer(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	if _, err := client.DetectFace(context.Background(), []byte("nope")); !errors.Is(err, ErrInvalidImage) {
		t.Errorf("expected ErrInvalidImage, got %v", err)
	}
	if called {
		t.Error("server should not be called for an invalid image")
	}
	if client.Model() != "mock" {
		t.Errorf("expected default model mock, got %s", client.Model())
	}
}
