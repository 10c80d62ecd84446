package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/scrypster/memorytap/pkg/types"
)

// ErrDeviceUnavailable is returned when no recording device (or source) can be opened.
var ErrDeviceUnavailable = errors.New("audio: capture device unavailable")

// ErrUnknownHandle is returned when StopCapture is called with a handle that
// was never started or was already stopped.
var ErrUnknownHandle = errors.New("audio: unknown capture handle")

// CaptureHandle identifies an in-progress recording.
type CaptureHandle string

// Capturer is the audio-capture collaborator. Implementations own device
// plumbing; the core only sees handles and finished artifacts.
type Capturer interface {
	StartCapture(ctx context.Context) (CaptureHandle, error)
	StopCapture(ctx context.Context, handle CaptureHandle) (types.AudioArtifact, error)
}

// FileCapturer "records" by reading an already finished recording from disk.
// It backs the CLI, where the device is whatever produced the file.
type FileCapturer struct {
	path    string
	maxSize int64

	mu      sync.Mutex
	handles map[CaptureHandle]struct{}
}

// NewFileCapturer returns a capturer reading path. maxSize caps the number of
// bytes read (0 means 25 MiB, the common upload limit of transcription APIs).
func NewFileCapturer(path string, maxSize int64) *FileCapturer {
	if maxSize <= 0 {
		maxSize = 25 << 20
	}
	return &FileCapturer{path: path, maxSize: maxSize, handles: make(map[CaptureHandle]struct{})}
}

// StartCapture checks that the source is readable.
func (c *FileCapturer) StartCapture(ctx context.Context) (CaptureHandle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	info, err := os.Stat(c.path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrDeviceUnavailable, c.path)
	}

	h := CaptureHandle(uuid.NewString())
	c.mu.Lock()
	c.handles[h] = struct{}{}
	c.mu.Unlock()
	return h, nil
}

// StopCapture reads the recording and returns it as an artifact.
func (c *FileCapturer) StopCapture(ctx context.Context, handle CaptureHandle) (types.AudioArtifact, error) {
	c.mu.Lock()
	_, ok := c.handles[handle]
	delete(c.handles, handle)
	c.mu.Unlock()
	if !ok {
		return types.AudioArtifact{}, ErrUnknownHandle
	}
	if err := ctx.Err(); err != nil {
		return types.AudioArtifact{}, err
	}

	f, err := os.Open(c.path)
	if err != nil {
		return types.AudioArtifact{}, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, c.maxSize+1))
	if err != nil {
		return types.AudioArtifact{}, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if int64(len(data)) > c.maxSize {
		return types.AudioArtifact{}, fmt.Errorf("audio: recording exceeds %d bytes", c.maxSize)
	}

	return types.AudioArtifact{
		Data:        data,
		ContentType: ContentTypeFor(c.path),
		Filename:    filepath.Base(c.path),
	}, nil
}

// Compile-time assertion.
var _ Capturer = (*FileCapturer)(nil)
