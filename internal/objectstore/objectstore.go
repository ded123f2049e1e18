// Package objectstore defines the external blob-storage collaborator (spec
// §2, §6.5) and ships a local-disk implementation for development and
// tests. Production deployments plug in a real provider behind the same
// three-method interface; the pipeline never depends on which one.
package objectstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Store is the ObjectStore contract spec §2 names: put/get/delete by key.
type Store interface {
	Put(key string, data []byte, mime string) (url string, err error)
	Get(url string) (data []byte, mime string, err error)
	Delete(url string) error
}

// Disk is a content-free-form-key, filesystem-backed Store suitable for
// local development and tests. Keys map directly to paths under root; the
// "url" returned is a file:// URL resolvable by Get.
type Disk struct {
	root   string
	logger *slog.Logger
}

// NewDisk creates a Disk store rooted at dir, creating it if absent.
func NewDisk(dir string, logger *slog.Logger) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: create root: %w", err)
	}
	return &Disk{root: dir, logger: logger}, nil
}

func (d *Disk) path(key string) string {
	return filepath.Join(d.root, filepath.FromSlash(key))
}

// Put writes data under key, alongside a sidecar ".mime" file recording the
// content type, and returns a file:// URL. Content hash is logged for
// traceability but keys are caller-chosen (unlike internal blob tables,
// which are content-addressed — see catalog.CreateTrack for that pattern).
func (d *Disk) Put(key string, data []byte, mime string) (string, error) {
	p := d.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("objectstore: mkdir: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("objectstore: write: %w", err)
	}
	if err := os.WriteFile(p+".mime", []byte(mime), 0o644); err != nil {
		return "", fmt.Errorf("objectstore: write mime: %w", err)
	}
	sum := sha256.Sum256(data)
	d.logger.Debug("objectstore put", "key", key, "bytes", len(data), "sha256", hex.EncodeToString(sum[:8]))
	return "file://" + p, nil
}

// Get reads data and mime back from a URL previously returned by Put.
func (d *Disk) Get(url string) ([]byte, string, error) {
	p := strings.TrimPrefix(url, "file://")
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, "", fmt.Errorf("objectstore: read: %w", err)
	}
	mime := "application/octet-stream"
	if m, err := os.ReadFile(p + ".mime"); err == nil {
		mime = string(m)
	}
	return data, mime, nil
}

// Delete removes the blob and its mime sidecar; absence is not an error.
func (d *Disk) Delete(url string) error {
	p := strings.TrimPrefix(url, "file://")
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("objectstore: delete: %w", err)
	}
	_ = os.Remove(p + ".mime")
	return nil
}

// Stream copies r into the store. It reads the whole body into one []byte
// and then hands it to Put; it does not write incrementally.
func Stream(s Store, key string, r io.Reader, mime string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("objectstore: stream read: %w", err)
	}
	return s.Put(key, data, mime)
}

// UploadKey builds the `<userId>/<epochMillis>-<sanitizedName>` key layout
// from spec §6.5.
func UploadKey(userID string, epochMillis int64, name string) string {
	return fmt.Sprintf("%s/%d-%s", userID, epochMillis, sanitize(name))
}

// StemKey builds the `<trackId>/stems/<kind>.<ext>` key layout from spec §6.5.
func StemKey(trackID, kind, ext string) string {
	return fmt.Sprintf("%s/stems/%s.%s", trackID, kind, ext)
}

// MashupKey builds the `<mashupId>.mp3` key layout from spec §6.5.
func MashupKey(mashupID string) string {
	return mashupID + ".mp3"
}

// PreviewKey builds the `preview-<a>-<b>.mp3` key layout from spec §6.5.
func PreviewKey(trackAID, trackBID string) string {
	return fmt.Sprintf("preview-%s-%s.mp3", trackAID, trackBID)
}

// SidecarKey builds the `<mashupId>/sidecar/<filename>` key layout for the
// artifact bundle (playlist, plan JSON, cues CSV, checksums, archive) a
// completed render writes alongside its audio output.
func SidecarKey(mashupID, filename string) string {
	return fmt.Sprintf("%s/sidecar/%s", mashupID, filename)
}

func sanitize(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, " ", "-")
	return name
}
