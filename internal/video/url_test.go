package video

import (
	"errors"
	"testing"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url   string
		valid bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", true},
		{"http://youtube.com/watch?v=dQw4w9WgXcQ&t=42", true},
		{"youtube.com/watch?v=dQw4w9WgXcQ", true},
		{"https://youtu.be/dQw4w9WgXcQ", true},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", true},
		{"https://www.youtube-nocookie.com/embed/dQw4w9WgXcQ", true},
		{"https://www.youtube.com/v/dQw4w9WgXcQ", true},
		{"  https://youtu.be/dQw4w9WgXcQ  ", true},
		{"https://vimeo.com/123456789", false},
		{"https://youtu.be/short", false},
		{"not a url", false},
		{"", false},
	}
	for _, tt := range tests {
		err := ValidateURL(tt.url)
		if tt.valid && err != nil {
			t.Errorf("ValidateURL(%q) = %v, want nil", tt.url, err)
		}
		if !tt.valid && !errors.Is(err, ErrInvalidURL) {
			t.Errorf("ValidateURL(%q) = %v, want ErrInvalidURL", tt.url, err)
		}
	}
}
