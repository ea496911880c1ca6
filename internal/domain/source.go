package domain

import (
	"path/filepath"
	"strings"
)

// Source is the original input of a run. It is fixed at pipeline start and
// kept for the redub phase, which needs the original stream again.
type Source struct {
	data []byte
	name string
}

func NewSource(data []byte, displayName string) Source {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = "source.mp4"
	}
	return Source{data: data, name: name}
}

// Bytes returns the original payload. Callers must not modify it.
func (s Source) Bytes() []byte {
	return s.data
}

func (s Source) Name() string {
	return s.name
}

func (s Source) Size() int {
	return len(s.data)
}

func (s Source) IsZero() bool {
	return len(s.data) == 0
}

// Ext returns the lowercase container extension of the display name,
// defaulting to ".mp4".
func (s Source) Ext() string {
	ext := strings.ToLower(filepath.Ext(s.name))
	if ext == "" || len(ext) > 6 || strings.ContainsAny(ext, " /\\") {
		return ".mp4"
	}
	return ext
}

// Acquisition is the successful result of resolving a share link.
type Acquisition struct {
	SourceID string `json:"sourceId"`
	Title    string `json:"title"`
	Data     []byte `json:"-"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Provider string `json:"provider"`
}
