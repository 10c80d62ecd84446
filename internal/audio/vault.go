// Package audio holds the audio-capture collaborator contract and the
// content-addressed vault that keeps recordings on disk.
package audio

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidRef is returned when a reference does not point inside the vault.
var ErrInvalidRef = errors.New("audio: invalid reference")

// Vault stores audio blobs under their SHA-256 digest. Writing the same bytes
// twice yields the same reference.
type Vault struct {
	dir       string
	publicURL string
}

// NewVault creates the directory if needed. When publicURL is non-empty,
// references are returned as publicURL + "/" + filename instead of local paths.
func NewVault(dir, publicURL string) (*Vault, error) {
	if dir == "" {
		return nil, fmt.Errorf("audio: vault directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audio: failed to create vault directory: %w", err)
	}
	return &Vault{dir: dir, publicURL: strings.TrimRight(publicURL, "/")}, nil
}

// Dir returns the vault's root directory.
func (v *Vault) Dir() string {
	return v.dir
}

// Hydrate writes data into the vault (if not already present) and returns a
// playable reference to it.
func (v *Vault) Hydrate(data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("audio: empty payload")
	}
	sum := sha256.Sum256(data)
	name := hex.EncodeToString(sum[:]) + ExtensionFor(contentType)
	path := filepath.Join(v.dir, name)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		tmp, err := os.CreateTemp(v.dir, ".audio-*")
		if err != nil {
			return "", fmt.Errorf("audio: failed to create temp file: %w", err)
		}
		if _, err := tmp.Write(data); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
			return "", fmt.Errorf("audio: failed to write blob: %w", err)
		}
		if err := tmp.Close(); err != nil {
			_ = os.Remove(tmp.Name())
			return "", fmt.Errorf("audio: failed to close blob: %w", err)
		}
		if err := os.Rename(tmp.Name(), path); err != nil {
			_ = os.Remove(tmp.Name())
			return "", fmt.Errorf("audio: failed to commit blob: %w", err)
		}
	} else if err != nil {
		return "", fmt.Errorf("audio: failed to stat blob: %w", err)
	}

	if v.publicURL != "" {
		return v.publicURL + "/" + name, nil
	}
	return path, nil
}

// Open reads the blob behind ref. Only references produced by this vault are accepted.
func (v *Vault) Open(ref string) ([]byte, error) {
	name := filepath.Base(ref)
	if v.publicURL != "" && strings.HasPrefix(ref, v.publicURL+"/") {
		name = strings.TrimPrefix(ref, v.publicURL+"/")
	} else if filepath.Dir(ref) != filepath.Clean(v.dir) {
		return nil, ErrInvalidRef
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, ErrInvalidRef
	}
	return os.ReadFile(filepath.Join(v.dir, name))
}

// ExtensionFor maps a content type to a file extension. Unknown types get ".bin".
func ExtensionFor(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	switch ct {
	case "audio/webm", "video/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	default:
		return ".bin"
	}
}

// ContentTypeFor maps a file name to a content type, defaulting to audio/webm
// (the browser recorder's default).
func ContentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a", ".mp4":
		return "audio/mp4"
	default:
		return "audio/webm"
	}
}
