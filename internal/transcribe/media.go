package transcribe

import (
	"fmt"
	"path/filepath"
	"strings"
)

// MediaFormat is the container format announced to the provider.
type MediaFormat string

const (
	MediaFormatWAV MediaFormat = "wav"
	MediaFormatMP3 MediaFormat = "mp3"
	MediaFormatMP4 MediaFormat = "mp4"
)

var contentTypeFormats = map[string]MediaFormat{
	"audio/wav":   MediaFormatWAV,
	"audio/mpeg":  MediaFormatMP3,
	"audio/mp3":   MediaFormatMP3,
	"audio/mp4":   MediaFormatMP4,
	"audio/x-m4a": MediaFormatMP4,
	"audio/m4a":   MediaFormatMP4,
}

var formatExtensions = map[MediaFormat]string{
	MediaFormatWAV: ".wav",
	MediaFormatMP3: ".mp3",
	MediaFormatMP4: ".m4a",
}

// IsSupportedContentType reports whether audio of this type can be transcribed.
func IsSupportedContentType(contentType string) bool {
	_, ok := contentTypeFormats[normalizeContentType(contentType)]
	return ok
}

// ResolveMediaFormat maps an upload content type to a provider media format.
func ResolveMediaFormat(contentType string) (MediaFormat, error) {
	format, ok := contentTypeFormats[normalizeContentType(contentType)]
	if !ok {
		return "", fmt.Errorf("%w: %q. Supported formats: WAV, MP3, MP4/M4A", ErrUnsupportedMediaType, contentType)
	}
	return format, nil
}

// FileExtension picks the object key extension, preferring the uploaded file name.
func FileExtension(fileName string, format MediaFormat) string {
	if ext := filepath.Ext(fileName); ext != "" && ext != "." {
		return strings.ToLower(ext)
	}
	if ext, ok := formatExtensions[format]; ok {
		return ext
	}
	return ".audio"
}

// normalizeContentType lower-cases and drops parameters such as "; codecs=...".
func normalizeContentType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
