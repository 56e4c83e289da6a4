package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	corsMethods = strings.Join([]string{
		http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions,
	}, ", ")
	corsHeaders = strings.Join([]string{
		"Content-Type", "Authorization", HeaderWebhookSecret,
		"x-webhook-signature", "x-webhook-timestamp",
	}, ", ")
)

// CORS admits browser calls from the configured origins. An empty list or "*"
// allows any origin without credentials; listed origins are echoed back.
func CORS(allowed []string) gin.HandlerFunc {
	wildcard := len(allowed) == 0
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			wildcard = true
		}
		set[strings.TrimRight(o, "/")] = struct{}{}
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		origin := c.GetHeader("Origin")
		switch {
		case wildcard:
			h.Set("Access-Control-Allow-Origin", "*")
		case origin != "":
			h.Add("Vary", "Origin")
			if _, ok := set[origin]; !ok {
				break
			}
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		if c.Request.Method != http.MethodOptions {
			c.Next()
			return
		}
		if h.Get("Access-Control-Allow-Origin") != "" {
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			h.Set("Access-Control-Max-Age", "86400")
		}
		c.AbortWithStatus(http.StatusNoContent)
	}
}
