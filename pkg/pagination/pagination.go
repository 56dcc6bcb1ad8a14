// Package pagination parses limit/offset query parameters and builds the
// response metadata that list endpoints attach to their payloads.
package pagination

import (
	"math"

	"github.com/gin-gonic/gin"

	"github.com/ridepulse/dispatch/pkg/common"
)

const (
	// DefaultLimit is the page size used when the client sends none.
	DefaultLimit = 20
	// MaxLimit caps the page size a client may request.
	MaxLimit = 100
	// DefaultOffset is the starting position used when the client sends none.
	DefaultOffset = 0
)

// Params holds the limit/offset pair after clamping.
type Params struct {
	Limit  int `form:"limit" json:"limit"`
	Offset int `form:"offset" json:"offset"`
}

// ParseParams reads limit and offset from the query string. Unparseable or
// out-of-range values fall back to the defaults rather than failing the
// request, so a bad page size never breaks a listing.
func ParseParams(c *gin.Context) Params {
	p := Params{Limit: DefaultLimit, Offset: DefaultOffset}
	if err := c.ShouldBindQuery(&p); err != nil {
		return Params{Limit: DefaultLimit, Offset: DefaultOffset}
	}
	return p.clamped()
}

func (p Params) clamped() Params {
	switch {
	case p.Limit <= 0:
		p.Limit = DefaultLimit
	case p.Limit > MaxLimit:
		p.Limit = MaxLimit
	}
	if p.Offset < 0 {
		p.Offset = DefaultOffset
	}
	return p
}

// BuildMeta fills the response metadata for a page of results.
func BuildMeta(limit, offset int, total int64) *common.Meta {
	m := &common.Meta{Limit: limit, Offset: offset, Total: total}
	if limit > 0 {
		m.TotalPages = int(math.Ceil(float64(total) / float64(limit)))
	}
	return m
}

// HasMore reports whether rows remain past the current page.
func HasMore(offset, limit int, total int64) bool {
	return int64(offset+limit) < total
}
