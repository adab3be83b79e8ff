// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package attachment validates local images and encodes them as data URLs
// for inclusion in a chat turn.
package attachment

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// MaxSize is the largest accepted attachment in bytes (10 MiB).
const MaxSize int64 = 10 * 1024 * 1024

// sniffLen is the number of leading bytes used for content sniffing.
const sniffLen = 512

// =============================================================================
// ERRORS
// =============================================================================

// UnsupportedTypeError is returned for files that are not images.
type UnsupportedTypeError struct {
	Name     string
	MIMEType string
}

// Error implements the error interface.
func (e *UnsupportedTypeError) Error() string {
	if e.MIMEType == "" {
		return fmt.Sprintf("%s: please select an image file", e.Name)
	}
	return fmt.Sprintf("%s: please select an image file (got %s)", e.Name, e.MIMEType)
}

// OversizeError is returned for images larger than MaxSize.
type OversizeError struct {
	Name string
	Size int64
}

// Error implements the error interface.
func (e *OversizeError) Error() string {
	return fmt.Sprintf("%s: image size must be less than %s (got %s)",
		e.Name, humanize.IBytes(uint64(MaxSize)), humanize.IBytes(uint64(e.Size)))
}

// =============================================================================
// PENDING ATTACHMENT
// =============================================================================

// PendingAttachment is a validated image waiting to be sent with the next turn.
type PendingAttachment struct {
	Name     string
	MIMEType string
	Size     int64
	DataURL  string
}

// String describes the attachment for display.
func (a *PendingAttachment) String() string {
	return fmt.Sprintf("%s (%s, %s)", a.Name, a.MIMEType, humanize.IBytes(uint64(a.Size)))
}

// Validate re-checks the limits on an attachment that may not have come
// from Encode.
func (a *PendingAttachment) Validate() error {
	if a.Size > MaxSize {
		return &OversizeError{Name: a.Name, Size: a.Size}
	}
	if !strings.HasPrefix(a.MIMEType, "image/") {
		return &UnsupportedTypeError{Name: a.Name, MIMEType: a.MIMEType}
	}
	if a.DataURL == "" {
		return fmt.Errorf("%s: attachment has no data", a.Name)
	}
	return nil
}

// =============================================================================
// ENCODING
// =============================================================================

// Encode validates an image and produces its data URL.
//
// declaredType is the media type reported by the source (may be empty, in
// which case the content is sniffed). size is the reported byte length; the
// limit is enforced again while reading so an understated size cannot
// bypass it. A declared non-image type is rejected before the size.
func Encode(name, declaredType string, size int64, r io.Reader) (*PendingAttachment, error) {
	mimeType := normalizeType(declaredType)
	if mimeType != "" && !strings.HasPrefix(mimeType, "image/") {
		return nil, &UnsupportedTypeError{Name: name, MIMEType: mimeType}
	}
	if size > MaxSize {
		return nil, &OversizeError{Name: name, Size: size}
	}

	// Read one byte past the limit to detect oversize input.
	data, err := io.ReadAll(io.LimitReader(r, MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if int64(len(data)) > MaxSize {
		return nil, &OversizeError{Name: name, Size: int64(len(data))}
	}

	if mimeType == "" {
		mimeType = sniff(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, &UnsupportedTypeError{Name: name, MIMEType: mimeType}
	}

	return &PendingAttachment{
		Name:     name,
		MIMEType: mimeType,
		Size:     int64(len(data)),
		DataURL:  "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data),
	}, nil
}

// FromFile loads and encodes an image from disk. The media type comes from
// the file extension, falling back to content sniffing.
func FromFile(path string) (*PendingAttachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("attach: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("attach: %s is a directory", path)
	}

	name := filepath.Base(path)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("attach: %w", err)
	}
	defer f.Close()

	declared := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if declared == "" {
		// Unknown extension: sniff the header before committing to a full read.
		head := make([]byte, sniffLen)
		n, err := io.ReadFull(f, head)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("attach: %w", err)
		}
		head = head[:n]
		declared = sniff(head)
		return Encode(name, declared, info.Size(), io.MultiReader(bytes.NewReader(head), f))
	}
	return Encode(name, declared, info.Size(), f)
}

// normalizeType strips parameters from a media type.
func normalizeType(t string) string {
	t = strings.TrimSpace(t)
	if t == "" {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(t); err == nil {
		return mediaType
	}
	return strings.ToLower(t)
}

// sniff detects the media type of data.
func sniff(data []byte) string {
	return normalizeType(http.DetectContentType(data))
}

// Decode splits a data URL into its media type and payload bytes.
func Decode(dataURL string) (mimeType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", nil, errors.New("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, errors.New("data URL has no payload")
	}
	mimeType, ok = strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, errors.New("data URL is not base64 encoded")
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URL: %w", err)
	}
	return mimeType, data, nil
}
