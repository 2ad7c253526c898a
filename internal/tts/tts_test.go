package tts

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miraihub/mirai-gateway/internal/config"
	"github.com/miraihub/mirai-gateway/internal/logging"
)

// testWAV builds a minimal RIFF/WAVE header followed by payload seconds of
// silence at the given byte rate.
func testWAV(byteRate uint32, seconds int) []byte {
	payload := make([]byte, int(byteRate)*seconds)
	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(payload)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1)
	binary.LittleEndian.PutUint16(header[22:24], 1)
	binary.LittleEndian.PutUint32(header[24:28], byteRate/2)
	binary.LittleEndian.PutUint32(header[28:32], byteRate)
	binary.LittleEndian.PutUint16(header[32:34], 2)
	binary.LittleEndian.PutUint16(header[34:36], 16)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(payload)))
	return append(header, payload...)
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	cfg := config.Default().TTS
	cfg.URL = url
	cfg.OutputDir = t.TempDir()
	return NewClient(cfg, logging.New().WithComponent("tts-test"))
}

func TestSynthesizeWritesVoiceline(t *testing.T) {
	audio := testWAV(32000, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tts", r.URL.Path)
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Hello there", req["text"])
		assert.Equal(t, "mirai", req["voice"])
		w.Write(audio)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	vl, err := c.Synthesize(context.Background(), "Hello there", "mirai")
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, vl.Duration)
	assert.Equal(t, ".wav", filepath.Ext(vl.Path))

	written, err := os.ReadFile(vl.Path)
	require.NoError(t, err)
	assert.Equal(t, audio, written)
}

func TestSynthesizeBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such voice", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Synthesize(context.Background(), "hi", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestWavDuration(t *testing.T) {
	assert.Equal(t, 3*time.Second, wavDuration(testWAV(16000, 3)))
	assert.Equal(t, time.Duration(0), wavDuration([]byte("not audio at all")))
	assert.Equal(t, time.Duration(0), wavDuration(nil))
}
