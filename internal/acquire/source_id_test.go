package acquire

import (
	"errors"
	"testing"

	"redubstream/internal/domain"
)

func TestParseSourceID(t *testing.T) {
	valid := map[string]string{
		"dQw4w9WgXcQ":     "dQw4w9WgXcQ",
		"  dQw4w9WgXcQ  ": "dQw4w9WgXcQ",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ":      "dQw4w9WgXcQ",
		"https://youtube.com/watch?v=dQw4w9WgXcQ&t=42s":    "dQw4w9WgXcQ",
		"youtube.com/watch?feature=share&v=dQw4w9WgXcQ":    "dQw4w9WgXcQ",
		"https://m.youtube.com/watch?v=dQw4w9WgXcQ":        "dQw4w9WgXcQ",
		"https://music.youtube.com/watch?v=dQw4w9WgXcQ":    "dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ?si=abc":              "dQw4w9WgXcQ",
		"https://www.youtube.com/shorts/aBcDeFgHi_-":       "aBcDeFgHi_-",
		"https://www.youtube.com/embed/dQw4w9WgXcQ":        "dQw4w9WgXcQ",
		"https://www.youtube.com/live/dQw4w9WgXcQ?feature": "dQw4w9WgXcQ",
	}
	for raw, want := range valid {
		got, err := ParseSourceID(raw)
		if err != nil {
			t.Fatalf("ParseSourceID(%q): %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseSourceID(%q) = %q, want %q", raw, got, want)
		}
	}

	invalid := []string{
		"",
		"short",
		"dQw4w9WgXcQQ",
		"https://vimeo.com/123456789",
		"https://www.youtube.com/watch?v=tooShort",
		"https://www.youtube.com/channel/UC1234567890",
		"https://youtu.be/",
		"not a url at all",
	}
	for _, raw := range invalid {
		if _, err := ParseSourceID(raw); !errors.Is(err, domain.ErrInvalidSource) {
			t.Fatalf("ParseSourceID(%q): expected ErrInvalidSource, got %v", raw, err)
		}
	}
}
