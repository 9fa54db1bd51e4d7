// Package embedding talks to the face embedding server.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const (
	defaultURL     = "http://localhost:8000"
	defaultModel   = "mock"
	defaultTimeout = 30 * time.Second
)

// Negative outcomes of face detection. Anything else is a server failure.
var (
	ErrNoFace           = errors.New("no face found in image")
	ErrExtractionFailed = errors.New("face feature extraction failed")
	ErrInvalidImage     = errors.New("unsupported or corrupt image")
)

// Client computes face descriptors using the embedding server
type Client struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewClient creates a new embedding client
func NewClient(baseURL, model string) *Client {
	if baseURL == "" {
		baseURL = defaultURL
	}
	if model == "" {
		model = defaultModel
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

// Model returns the model name being used
func (c *Client) Model() string {
	return c.model
}

// FaceDetection represents a single detected face
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse represents the response from the face embedding endpoint
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// DetectFace returns the descriptor of the most confidently detected face in the image.
func (c *Client) DetectFace(ctx context.Context, image []byte) ([]float32, error) {
	mimeType, err := ValidateImage(image)
	if err != nil {
		return nil, err
	}

	body, status, err := c.postMultipartImage(ctx, "/embed/face", image, mimeType)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: %s", ErrExtractionFailed, truncate(body))
	case status == http.StatusBadRequest || status == http.StatusUnsupportedMediaType:
		return nil, fmt.Errorf("%w: %s", ErrInvalidImage, truncate(body))
	case status != http.StatusOK:
		return nil, fmt.Errorf("API error (status %d): %s", status, truncate(body))
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return bestFace(&faceResp)
}

func bestFace(resp *FaceResponse) ([]float32, error) {
	if len(resp.Faces) == 0 {
		return nil, ErrNoFace
	}
	best := -1
	for i := range resp.Faces {
		if len(resp.Faces[i].Embedding) == 0 {
			continue
		}
		if best < 0 || resp.Faces[i].DetScore > resp.Faces[best].DetScore {
			best = i
		}
	}
	if best < 0 {
		return nil, ErrExtractionFailed
	}
	return resp.Faces[best].Embedding, nil
}

// postMultipartImage posts the image as a multipart form and returns the body and status code
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte, mimeType string) ([]byte, int, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="capture"`)
	h.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, 0, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.WriteField("model", c.model); err != nil {
		return nil, 0, fmt.Errorf("failed to write model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, 0, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func truncate(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
