// Package whisperserver provides a transcribe.Provider backed by a running
// whisper.cpp server binary, which exposes a REST API at POST /inference.
// Each chunk is wrapped in a WAV container and submitted as one batch
// inference request.
package whisperserver

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/nightjarhq/nightjar/pkg/provider/transcribe"
)

const defaultTimeout = 30 * time.Second

// Compile-time assertion that Provider implements transcribe.Provider.
var _ transcribe.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the language hint sent to the server (e.g., "en", "de").
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithModel sets the model identifier forwarded to the server. When empty the
// server uses whichever model it was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithHTTPClient overrides the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider submits WAV-wrapped PCM chunks to a whisper.cpp server.
type Provider struct {
	serverURL  string
	language   string
	model      string
	httpClient *http.Client
}

// New creates a Provider talking to the whisper.cpp server at serverURL
// (e.g., "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisperserver: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements transcribe.Provider.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte) (transcribe.Result, error) {
	if len(pcm) == 0 {
		return transcribe.Result{}, nil
	}

	wav := encodeWAV(pcm, transcribe.SampleRate, transcribe.Channels)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("whisperserver: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return transcribe.Result{}, fmt.Errorf("whisperserver: write wav data: %w", err)
	}
	if p.language != "" {
		if err := mw.WriteField("language", p.language); err != nil {
			return transcribe.Result{}, fmt.Errorf("whisperserver: write language field: %w", err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return transcribe.Result{}, fmt.Errorf("whisperserver: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return transcribe.Result{}, fmt.Errorf("whisperserver: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("whisperserver: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("whisperserver: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return transcribe.Result{}, fmt.Errorf("whisperserver: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("whisperserver: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return transcribe.Result{}, fmt.Errorf("whisperserver: parse JSON response: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return transcribe.Result{}, nil
	}
	return transcribe.Result{Text: text, Confidence: 1.0}, nil
}

// encodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := transcribe.BitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 0, 44+dataSize)
	w := bytes.NewBuffer(buf)

	w.WriteString("RIFF")
	binary.Write(w, binary.LittleEndian, uint32(36+dataSize))
	w.WriteString("WAVE")

	w.WriteString("fmt ")
	binary.Write(w, binary.LittleEndian, uint32(16))
	binary.Write(w, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(w, binary.LittleEndian, uint16(channels))
	binary.Write(w, binary.LittleEndian, uint32(sampleRate))
	binary.Write(w, binary.LittleEndian, uint32(byteRate))
	binary.Write(w, binary.LittleEndian, uint16(blockAlign))
	binary.Write(w, binary.LittleEndian, uint16(bps))

	w.WriteString("data")
	binary.Write(w, binary.LittleEndian, uint32(dataSize))
	w.Write(pcm)

	return w.Bytes()
}
