package capture

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const policyKey = "route_retry.policy"

// RoutePolicy is the per-route retry configuration.
type RoutePolicy struct {
	Name       string
	MaxRetries int // zero means the configured default
	Tags       []string
}

// PolicyOption sets a RoutePolicy field.
type PolicyOption func(*RoutePolicy)

// Name sets the route name. An untagged route is tagged with its name.
func Name(name string) PolicyOption {
	return func(p *RoutePolicy) { p.Name = name }
}

// MaxRetries sets how many replay attempts the route's records get.
func MaxRetries(n int) PolicyOption {
	return func(p *RoutePolicy) { p.MaxRetries = n }
}

// Tags sets the tags recorded on captured requests.
func Tags(tags ...string) PolicyOption {
	return func(p *RoutePolicy) { p.Tags = append(p.Tags, tags...) }
}

// Policy returns route middleware that attaches a RoutePolicy to the request.
// It must run inside the capture middleware, usually as a per-route handler:
//
//	r.POST("/orders", capture.Policy(capture.Name("orders.store"), capture.MaxRetries(5)), h)
func Policy(opts ...PolicyOption) gin.HandlerFunc {
	p := RoutePolicy{}
	for _, opt := range opts {
		opt(&p)
	}
	return func(c *gin.Context) {
		c.Set(policyKey, p)
		c.Next()
	}
}

// Rule maps requests to a RoutePolicy by method and path prefix.
type Rule struct {
	Method     string // empty matches any
	PathPrefix string
	Name       string
	MaxRetries int
	Tags       []string
}

func (r Rule) matches(method, path string) bool {
	if r.Method != "" && !strings.EqualFold(r.Method, method) {
		return false
	}
	return strings.HasPrefix(path, r.PathPrefix)
}

// Rules returns middleware that applies the first matching rule's policy.
// A Policy handler further down the chain replaces it.
func Rules(rules []Rule) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, r := range rules {
			if r.matches(c.Request.Method, c.Request.URL.Path) {
				c.Set(policyKey, RoutePolicy{Name: r.Name, MaxRetries: r.MaxRetries, Tags: r.Tags})
				break
			}
		}
		c.Next()
	}
}

func policyFrom(c *gin.Context) RoutePolicy {
	if v, ok := c.Get(policyKey); ok {
		if p, ok := v.(RoutePolicy); ok {
			return p
		}
	}
	return RoutePolicy{}
}
