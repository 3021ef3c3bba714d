package action

import (
	"net/http"
	"testing"
)

func TestResolveKnownRoutes(t *testing.T) {
	cases := []struct {
		method string
		path   string
		want   Action
	}{
		{http.MethodGet, "/", GetAllPosts},
		{http.MethodGet, "/posts", GetUserPosts},
		{http.MethodPost, "/posts", CreatePost},
		{http.MethodDelete, "/posts/{postId}", DeletePost},
	}
	for _, tc := range cases {
		if got := Resolve(tc.method, tc.path); got != tc.want {
			t.Fatalf("Resolve(%s %s) = %v, want %v", tc.method, tc.path, got, tc.want)
		}
	}
}

func TestResolveUnknownRoutes(t *testing.T) {
	cases := []struct {
		method string
		path   string
	}{
		{http.MethodPatch, "/posts"},
		{http.MethodPut, "/posts/{postId}"},
		{http.MethodGet, "/posts/{postId}"},
		{http.MethodDelete, "/posts"},
		{http.MethodGet, "/nope"},
	}
	for _, tc := range cases {
		if got := Resolve(tc.method, tc.path); got != Unknown {
			t.Fatalf("Resolve(%s %s) = %v, want Unknown", tc.method, tc.path, got)
		}
	}
}

func TestRequiresResource(t *testing.T) {
	if GetAllPosts.RequiresResource() || GetUserPosts.RequiresResource() || CreatePost.RequiresResource() {
		t.Fatal("only DeletePost should be resource scoped")
	}
	if !DeletePost.RequiresResource() {
		t.Fatal("DeletePost must be resource scoped")
	}
	if Unknown.RequiresResource() {
		t.Fatal("Unknown must not be resource scoped")
	}
}

func TestActionString(t *testing.T) {
	if Unknown.String() != "Unknown" {
		t.Fatalf("unexpected string for Unknown: %s", Unknown.String())
	}
	if DeletePost.String() != "DeletePost" {
		t.Fatalf("unexpected string for DeletePost: %s", DeletePost.String())
	}
}

func TestRoutesCoversTable(t *testing.T) {
	rs := Routes()
	if len(rs) != 4 {
		t.Fatalf("expected 4 routes, got %d", len(rs))
	}
	for _, r := range rs {
		if Resolve(r.Method, r.Path) != r.Action {
			t.Fatalf("route table disagrees with Resolve for %s %s", r.Method, r.Path)
		}
	}
}
