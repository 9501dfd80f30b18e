package client

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

	"github.com/google/uuid"
	"github.com/voicediary/voicediary/internal/diary"
	"go.uber.org/zap"
)

var errMissingBaseURL = errors.New("client: base url is required")

// Config carries the dependencies of a mutation Client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client wraps the diary server's mutation and fetch endpoints. Failures are
// reported through the typed taxonomy: ClientRequestError for 4xx,
// ServerResponseError for 5xx and TransportError for network-level faults.
// Mutation calls never retry on their own; only the subscription stream does.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// New validates the configuration and returns a ready client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CreateEntry uploads a new entry as a multipart request with a JSON
// "metadata" part and a binary "audio" part, returning the entry the server
// stored.
func (c *Client) CreateEntry(ctx context.Context, entry diary.Entry, audio []byte) (diary.Entry, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	metadata, err := json.Marshal(entry)
	if err != nil {
		return diary.Entry{}, fmt.Errorf("client: encode entry metadata: %w", err)
	}
	metadataHeader := textproto.MIMEHeader{}
	metadataHeader.Set("Content-Disposition", `form-data; name="metadata"`)
	metadataHeader.Set("Content-Type", "application/json")
	metadataPart, err := writer.CreatePart(metadataHeader)
	if err != nil {
		return diary.Entry{}, fmt.Errorf("client: create metadata part: %w", err)
	}
	if _, err := metadataPart.Write(metadata); err != nil {
		return diary.Entry{}, fmt.Errorf("client: write metadata part: %w", err)
	}

	audioHeader := textproto.MIMEHeader{}
	audioHeader.Set("Content-Disposition", `form-data; name="audio"; filename="audio.wav"`)
	audioHeader.Set("Content-Type", "audio/wav")
	audioPart, err := writer.CreatePart(audioHeader)
	if err != nil {
		return diary.Entry{}, fmt.Errorf("client: create audio part: %w", err)
	}
	if _, err := audioPart.Write(audio); err != nil {
		return diary.Entry{}, fmt.Errorf("client: write audio part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return diary.Entry{}, fmt.Errorf("client: finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/entries", &body)
	if err != nil {
		return diary.Entry{}, fmt.Errorf("client: build create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return diary.Entry{}, &TransportError{Op: "create entry", Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := classifyResponse(resp); err != nil {
		return diary.Entry{}, err
	}
	var created diary.Entry
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return diary.Entry{}, &TransportError{Op: "decode created entry", Err: err}
	}
	return created, nil
}

// UpdateTranscription replaces the transcription fields of an entry.
func (c *Client) UpdateTranscription(ctx context.Context, id uuid.UUID, update diary.TranscriptionUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("client: encode transcription update: %w", err)
	}
	url := fmt.Sprintf("%s/v1/entries/%s/transcription", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("client: build update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: "update transcription", Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck
	return classifyResponse(resp)
}

// DeleteEntry removes an entry. Deleting an id the server does not know is a
// success, not an error.
func (c *Client) DeleteEntry(ctx context.Context, id uuid.UUID) error {
	url := fmt.Sprintf("%s/v1/entries/%s", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("client: build delete request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: "delete entry", Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck
	return classifyResponse(resp)
}

// GetAudio fetches the raw audio bytes of an entry.
func (c *Client) GetAudio(ctx context.Context, id uuid.UUID) ([]byte, error) {
	url := fmt.Sprintf("%s/v1/entries/%s/audio", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("client: build audio request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "fetch audio", Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := classifyResponse(resp); err != nil {
		return nil, err
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read audio body", Err: err}
	}
	return audio, nil
}
