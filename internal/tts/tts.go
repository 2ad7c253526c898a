// Package tts turns reply text into voiceline audio files via a local
// synthesis server.
package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/miraihub/mirai-gateway/internal/config"
	"github.com/miraihub/mirai-gateway/internal/metrics"
)

// Voiceline is one synthesized audio file.
type Voiceline struct {
	Path     string
	Duration time.Duration
}

// Synthesizer produces a voiceline for text. Satisfied by *Client.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (*Voiceline, error)
}

// Client posts text to the synthesis server and stores the returned WAV.
type Client struct {
	baseURL    string
	outputDir  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a synthesis client from config. The output directory is
// created on first use.
func NewClient(cfg config.TTSConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    cfg.URL,
		outputDir:  cfg.OutputDir,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		logger:     logger,
	}
}

// Synthesize renders text with the given voice and writes the audio to the
// output directory.
func (c *Client) Synthesize(ctx context.Context, text, voice string) (*Voiceline, error) {
	payload, err := json.Marshal(map[string]string{
		"text":  text,
		"voice": voice,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("synthesis backend returned status %d: %s", resp.StatusCode, string(data))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read synthesis response: %w", err)
	}

	if err := os.MkdirAll(c.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create voiceline directory: %w", err)
	}
	path := filepath.Join(c.outputDir, uuid.NewString()+".wav")
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write voiceline: %w", err)
	}

	duration := wavDuration(audio)
	metrics.VoicingLatency.Observe(time.Since(start).Seconds())
	c.logger.Debug("voiceline synthesized", "path", path, "audio_duration", duration)

	return &Voiceline{Path: path, Duration: duration}, nil
}

// Health probes the synthesis server.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("synthesis backend unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("synthesis backend health returned status %d", resp.StatusCode)
	}
	return nil
}

// wavDuration derives playback length from the PCM header's byte rate.
// Unparseable audio yields zero rather than an error.
func wavDuration(data []byte) time.Duration {
	if len(data) < 44 || string(data[:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0
	}
	byteRate := binary.LittleEndian.Uint32(data[28:32])
	if byteRate == 0 {
		return 0
	}
	payload := len(data) - 44
	seconds := float64(payload) / float64(byteRate)
	return time.Duration(seconds * float64(time.Second))
}
