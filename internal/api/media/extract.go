package media

import (
	"encoding/json"
	"strings"

	"go.salikov.me/argus/internal/util/set"
)

// priorityKeys are checked first at every level of the payload; a match wins
// over anything found deeper.
var priorityKeys = []string{
	"play",
	"video_url",
	"download_url",
	"media_url",
	"url",
	"link",
}

// scanLimit bounds how many nodes the deep scan visits. Collaborator
// payloads are finite and acyclic, but a hard cap keeps a pathological
// response from pinning the handler.
const scanLimit = 10000

// ExtractURLs walks an arbitrary JSON payload breadth-first and returns every
// distinct playable URL it finds, priority keys first.
func ExtractURLs(raw json.RawMessage) []string {
	var root any
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil
	}

	var (
		urls    []string
		seen    = set.New[string](4)
		queue   = []any{root}
		visited int
	)

	add := func(s string) {
		if !isMediaURL(s) {
			return
		}
		if seen.Add(s) {
			urls = append(urls, s)
		}
	}

	for len(queue) > 0 && visited < scanLimit {
		node := queue[0]
		queue = queue[1:]
		visited++

		switch v := node.(type) {
		case map[string]any:
			for _, key := range priorityKeys {
				if s, ok := v[key].(string); ok {
					add(s)
				}
			}
			// Non-priority string fields still count if they look like
			// media links.
			for _, child := range v {
				if s, ok := child.(string); ok {
					add(s)
					continue
				}
				queue = append(queue, child)
			}
		case []any:
			queue = append(queue, v...)
		}
	}

	return urls
}

func isMediaURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
