// ABOUTME: Track URL validation and song-id extraction
// ABOUTME: Recognizes streaming-service track URL shapes via ordered patterns
package acquire

import (
	"fmt"
	"regexp"
)

// validPatterns gate which URLs are accepted at all.
var validPatterns = []*regexp.Regexp{
	regexp.MustCompile(`spotify\.com/track/`),
	regexp.MustCompile(`open\.spotify\.com/track/`),
}

// idPatterns extract the song id; checked in order, first match wins.
var idPatterns = []*regexp.Regexp{
	regexp.MustCompile(`spotify\.com/track/([a-zA-Z0-9]+)`),
	regexp.MustCompile(`spotify\.com/track/([a-zA-Z0-9]+)\?`),
	regexp.MustCompile(`open\.spotify\.com/track/([a-zA-Z0-9]+)`),
	regexp.MustCompile(`open\.spotify\.com/track/([a-zA-Z0-9]+)\?`),
}

// ValidURL reports whether the URL looks like a recognized track URL
func ValidURL(url string) bool {
	for _, p := range validPatterns {
		if p.MatchString(url) {
			return true
		}
	}
	return false
}

// ExtractSongID pulls the track token out of a recognized URL
func ExtractSongID(url string) (string, error) {
	for _, p := range idPatterns {
		if m := p.FindStringSubmatch(url); m != nil {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("could not extract song id from URL: %s", url)
}
