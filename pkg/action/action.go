// Package action maps the HTTP surface of the API onto the fixed set of
// logical actions the policy store knows about.
package action

import "net/http"

// Action is the logical operation a request resolves to. The zero value is
// Unknown so an unmatched route can never masquerade as a real action.
type Action int

const (
	Unknown Action = iota
	GetAllPosts
	GetUserPosts
	CreatePost
	DeletePost
)

func (a Action) String() string {
	switch a {
	case GetAllPosts:
		return "GetAllPosts"
	case GetUserPosts:
		return "GetUserPosts"
	case CreatePost:
		return "CreatePost"
	case DeletePost:
		return "DeletePost"
	default:
		return "Unknown"
	}
}

// RequiresResource reports whether the action targets a specific post. Only
// those routes load the post record before the permission check.
func (a Action) RequiresResource() bool {
	return a == DeletePost
}

type routeKey struct {
	method string
	path   string
}

// The static route table. Path parameters are matched by template, never by
// value; resolution happens before any identity or resource handling.
var routes = map[routeKey]Action{
	{http.MethodGet, "/"}:                  GetAllPosts,
	{http.MethodGet, "/posts"}:             GetUserPosts,
	{http.MethodPost, "/posts"}:            CreatePost,
	{http.MethodDelete, "/posts/{postId}"}: DeletePost,
}

// Resolve returns the action for a (method, path template) pair, or Unknown.
func Resolve(method, pathTemplate string) Action {
	if a, ok := routes[routeKey{method, pathTemplate}]; ok {
		return a
	}
	return Unknown
}

// Routes returns every (method, path template, action) triple in the table
// so the HTTP server can register exactly the routes that exist.
func Routes() []struct {
	Method string
	Path   string
	Action Action
} {
	out := make([]struct {
		Method string
		Path   string
		Action Action
	}, 0, len(routes))
	for k, a := range routes {
		out = append(out, struct {
			Method string
			Path   string
			Action Action
		}{k.method, k.path, a})
	}
	return out
}
