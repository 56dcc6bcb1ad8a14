package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ridepulse/dispatch/pkg/security"
)

// Bodies past this size pass through unscrubbed rather than being buffered.
const maxScrubBodyBytes = 2 << 20

// SanitizeRequest scrubs query parameters and JSON body strings before
// handlers bind them. Register it ahead of any route that reads the body.
func SanitizeRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		scrubQuery(c)
		scrubJSONBody(c)
		c.Next()
	}
}

func scrubQuery(c *gin.Context) {
	q := c.Request.URL.Query()
	dirty := false
	for key, values := range q {
		for i, v := range values {
			if clean := security.SanitizeInput(v, 0); clean != v {
				q[key][i] = clean
				dirty = true
			}
		}
	}
	if dirty {
		c.Request.URL.RawQuery = q.Encode()
	}
}

// scrubJSONBody rewrites string values inside a JSON body. Non-JSON and
// unparseable bodies are replayed untouched so binding can report the
// real error.
func scrubJSONBody(c *gin.Context) {
	if c.Request.Body == nil {
		return
	}
	if !strings.Contains(c.GetHeader("Content-Type"), "application/json") {
		return
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxScrubBodyBytes))
	if err != nil {
		c.Request.Body = http.NoBody
		return
	}
	if len(raw) == 0 {
		replayBody(c, raw)
		return
	}

	var payload interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		replayBody(c, raw)
		return
	}

	clean, err := json.Marshal(scrubValue(payload))
	if err != nil {
		replayBody(c, raw)
		return
	}
	replayBody(c, clean)
}

func replayBody(c *gin.Context, body []byte) {
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
}

func scrubValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return security.SanitizeInput(val, 0)
	case []interface{}:
		for i := range val {
			val[i] = scrubValue(val[i])
		}
		return val
	case map[string]interface{}:
		for k := range val {
			val[k] = scrubValue(val[k])
		}
		return val
	default:
		return v
	}
}
