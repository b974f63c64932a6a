package ws

import (
	"os"
	"strings"
)

// allowedOrigins returns allowed WebSocket origins from environment or defaults
func allowedOrigins() map[string]bool {
	origins := map[string]bool{
		"http://localhost:3000": true,
		"http://localhost:8080": true,
		"http://127.0.0.1:3000": true,
		"http://127.0.0.1:8080": true,
	}

	if env := os.Getenv("CORS_ALLOWED_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origins[strings.TrimSpace(origin)] = true
		}
	}

	return origins
}
