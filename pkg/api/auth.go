package api

import "net/http"

// extractAuthor identifies the acting user from proxy identity headers,
// falling back to a generic API client marker.
func extractAuthor(r *http.Request) string {
	for _, header := range []string{"X-Forwarded-User", "X-Forwarded-Email", "X-Remote-User"} {
		if v := r.Header.Get(header); v != "" {
			return v
		}
	}
	return "api-client"
}
