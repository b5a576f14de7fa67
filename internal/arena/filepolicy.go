package arena

import (
	"fmt"
	"strings"

	"github.com/soyeahso/memarena/internal/domain"
)

// MaxInlineBytes is the largest file sent inline as base64.
const MaxInlineBytes = 20 << 20

// SupportsFileType reports whether the model family accepts mediaType.
func SupportsFileType(family, mediaType string) bool {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if strings.HasPrefix(mt, "image/") || mt == "application/pdf" {
		return true
	}
	switch family {
	case domain.FamilyAnthropic:
		return mt == "text/plain"
	case domain.FamilyOpenAI:
		switch mt {
		case "audio/wav", "audio/x-wav", "audio/wave", "audio/mpeg", "audio/mp3":
			return true
		}
	}
	return false
}

// SupportsFileURL reports whether the family fetches mediaType by URL itself.
// Only images are passed by reference; everything else is inlined.
func SupportsFileURL(family, mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "image/")
}

// UnsupportedFileType is the error text for a rejected media type.
func UnsupportedFileType(family, mediaType string) string {
	extra := "audio (wav/mp3)."
	if family == domain.FamilyAnthropic {
		extra = "txt (text/plain)."
	}
	return fmt.Sprintf("Unsupported file type for %s: %s. Supported: image/*, PDF; %s", family, mediaType, extra)
}
