package domain

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// InputKind identifies what the raw job input is.
type InputKind string

// Supported input kinds
const (
	// InputKindUpload is a recording already stored on local disk.
	InputKindUpload InputKind = "upload"
	// InputKindDocument is a document whose text has already been extracted.
	InputKindDocument InputKind = "document"
	// InputKindVideo is a remote video reference (URL or bare video ID).
	InputKindVideo InputKind = "video"
)

var videoIDPattern = regexp.MustCompile(`(?:v=|/)([0-9A-Za-z_-]{11})`)
var bareVideoID = regexp.MustCompile(`^[0-9A-Za-z_-]{11}$`)

// Input is the single raw input of a job.
type Input struct {
	Kind InputKind `json:"kind"`
	// Reference is a file path for uploads and a URL or video ID for videos.
	Reference string `json:"reference,omitempty"`
	// Text carries the extracted document text for document inputs.
	Text string `json:"text,omitempty"`
	// Language is an optional language hint (e.g. "ar", "en").
	Language string `json:"language,omitempty"`
	// StartSeconds and EndSeconds optionally clip a video input.
	StartSeconds float64 `json:"start_seconds,omitempty"`
	EndSeconds   float64 `json:"end_seconds,omitempty"`
}

// Validate checks that the input is non-empty and well-formed for its kind.
// Every returned error wraps ErrInputInvalid.
func (in Input) Validate() error {
	switch in.Kind {
	case InputKindUpload:
		if strings.TrimSpace(in.Reference) == "" {
			return fmt.Errorf("%w: upload reference cannot be empty", ErrInputInvalid)
		}
	case InputKindDocument:
		if strings.TrimSpace(in.Text) == "" {
			return fmt.Errorf("%w: document text cannot be empty", ErrInputInvalid)
		}
	case InputKindVideo:
		if _, err := ParseVideoID(in.Reference); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown input kind %q", ErrInputInvalid, in.Kind)
	}

	if in.StartSeconds < 0 || in.EndSeconds < 0 {
		return fmt.Errorf("%w: clip offsets cannot be negative", ErrInputInvalid)
	}
	if in.EndSeconds > 0 && in.EndSeconds <= in.StartSeconds {
		return fmt.Errorf("%w: clip end must be after clip start", ErrInputInvalid)
	}
	return nil
}

// Normalized returns a copy with surrounding whitespace removed.
func (in Input) Normalized() Input {
	in.Reference = strings.TrimSpace(in.Reference)
	in.Language = strings.ToLower(strings.TrimSpace(in.Language))
	return in
}

// ParseVideoID extracts the 11-character video ID from a URL or accepts a
// bare ID.
func ParseVideoID(reference string) (string, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return "", fmt.Errorf("%w: video reference cannot be empty", ErrInputInvalid)
	}
	if bareVideoID.MatchString(reference) {
		return reference, nil
	}

	u, err := url.Parse(reference)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: video reference %q is neither a URL nor a video ID", ErrInputInvalid, reference)
	}
	if id := u.Query().Get("v"); bareVideoID.MatchString(id) {
		return id, nil
	}
	if m := videoIDPattern.FindStringSubmatch(u.Path); m != nil {
		return m[1], nil
	}
	return "", fmt.Errorf("%w: no video ID found in %q", ErrInputInvalid, reference)
}
