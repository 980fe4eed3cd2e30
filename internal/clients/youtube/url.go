package youtube

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tubevault/backend/internal/pkg/errkind"
)

// ParseVideoID extracts the 11-character video id from the URL forms users
// actually paste: watch?v=, youtu.be/, shorts/, embed/, live/, or a bare id.
func ParseVideoID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("youtube: empty url: %w", errkind.ErrInvalidInput)
	}

	if isVideoID(raw) {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("youtube: parse url %q: %w", raw, errkind.ErrInvalidInput)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	path := strings.Trim(u.Path, "/")

	var id string
	switch host {
	case "youtu.be":
		id = firstSegment(path)
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		switch {
		case path == "watch":
			id = u.Query().Get("v")
		case strings.HasPrefix(path, "shorts/"):
			id = firstSegment(strings.TrimPrefix(path, "shorts/"))
		case strings.HasPrefix(path, "embed/"):
			id = firstSegment(strings.TrimPrefix(path, "embed/"))
		case strings.HasPrefix(path, "live/"):
			id = firstSegment(strings.TrimPrefix(path, "live/"))
		}
	}

	if !isVideoID(id) {
		return "", fmt.Errorf("youtube: no video id in %q: %w", raw, errkind.ErrInvalidInput)
	}
	return id, nil
}

func firstSegment(p string) string {
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return p
}

func isVideoID(s string) bool {
	if len(s) != 11 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}
