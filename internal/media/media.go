// Package media handles audio acquisition for the pipeline: downloading
// audio from video URLs with yt-dlp, decoding arbitrary media into the raw
// 16 kHz mono float32 stream the speech-to-text models expect, and deriving
// stable content-based IDs for uploaded files.
//
// Both yt-dlp and ffmpeg are invoked as external commands; their absence is
// reported as a normal error so callers can surface a configuration problem
// instead of crashing mid-task.
package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// whisperSampleRate is the sample rate whisper models are trained on.
const whisperSampleRate = 16000

// hashPrefixBytes is how much of an uploaded file feeds its content ID.
const hashPrefixBytes = 10 * 1024 * 1024

// DecodeSamples decodes any media file ffmpeg understands into 16 kHz mono
// float32 PCM samples.
func DecodeSamples(ctx context.Context, path string) ([]float32, error) {
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("media: ffmpeg not found in PATH: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, ffmpeg,
		"-i", path,
		"-f", "s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(whisperSampleRate),
		"-loglevel", "error",
		"-",
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("media: ffmpeg decode %q: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}

	return pcmToFloat32(stdout.Bytes()), nil
}

// pcmToFloat32 converts 16-bit signed little-endian PCM to float32 samples
// normalised to [-1.0, 1.0]. A trailing odd byte is ignored.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// Duration returns the media duration in seconds as reported by ffprobe,
// or 0 when it cannot be determined.
func Duration(ctx context.Context, path string) float64 {
	ffprobe, err := exec.LookPath("ffprobe")
	if err != nil {
		return 0
	}

	out, err := exec.CommandContext(ctx, ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0
	}

	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || math.IsNaN(d) || d < 0 {
		return 0
	}
	return d
}

// Downloader fetches the audio track of remote videos with yt-dlp.
type Downloader struct {
	dir string
}

// NewDownloader creates a Downloader writing into dir, creating it if needed.
func NewDownloader(dir string) (*Downloader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media: create download dir: %w", err)
	}
	return &Downloader{dir: dir}, nil
}

// DownloadAudio downloads the best audio stream of url and returns the local
// file path along with the provider video ID and title.
func (d *Downloader) DownloadAudio(ctx context.Context, url string) (path string, videoID string, title string, err error) {
	ytdlp, err := exec.LookPath("yt-dlp")
	if err != nil {
		return "", "", "", fmt.Errorf("media: yt-dlp not found in PATH: %w", err)
	}

	session := uuid.NewString()
	template := filepath.Join(d.dir, session+".%(ext)s")

	args := []string{
		"--format", "bestaudio/best",
		"--extract-audio",
		"--audio-format", "mp3",
		"--no-playlist",
		"--print", "after_move:id",
		"--print", "after_move:title",
		"--print", "after_move:filepath",
		"--output", template,
		url,
	}
	if _, err := os.Stat("cookies.txt"); err == nil {
		slog.Info("using cookies.txt for download authentication")
		args = append([]string{"--cookies", "cookies.txt"}, args...)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, ytdlp, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Info("downloading audio", "url", url)
	if err := cmd.Run(); err != nil {
		return "", "", "", fmt.Errorf("media: yt-dlp %q: %w: %s", url, err, strings.TrimSpace(stderr.String()))
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) >= 3 {
		videoID = strings.TrimSpace(lines[0])
		title = strings.TrimSpace(lines[1])
		path = strings.TrimSpace(lines[2])
	}
	if videoID == "" {
		videoID = session
	}
	if path == "" || !fileExists(path) {
		// yt-dlp occasionally reports a path before the postprocessor
		// renames it; fall back to scanning for the session prefix.
		path, err = d.findByPrefix(session)
		if err != nil {
			return "", "", "", err
		}
	}

	slog.Info("download completed", "path", path, "title", title)
	return path, videoID, title, nil
}

func (d *Downloader) findByPrefix(prefix string) (string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return "", fmt.Errorf("media: scan download dir: %w", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) {
			return filepath.Join(d.dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("media: downloaded file with prefix %q not found", prefix)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ContentID derives a stable "upload_" prefixed ID from the first 10 MiB of
// a file, so re-uploading the same video reuses cached results.
func ContentID(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("media: open %q: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.CopyN(h, f, hashPrefixBytes); err != nil && err != io.EOF {
		return "", fmt.Errorf("media: hash %q: %w", path, err)
	}

	return "upload_" + hex.EncodeToString(h.Sum(nil))[:16], nil
}

// IsUpload reports whether a video ID came from an uploaded file rather
// than a remote URL.
func IsUpload(videoID string) bool {
	return strings.HasPrefix(videoID, "upload_")
}
