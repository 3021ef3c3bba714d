// Package authz builds authorization queries and relays them to the policy
// decision point. It contains no policy logic of its own: every rule lives in
// the PDP, and anything short of an explicit ALLOW from it is a deny.
package authz

import (
	"context"

	"github.com/martinpagelaws/simpleposts/pkg/action"
	"github.com/martinpagelaws/simpleposts/pkg/poststore"
)

// Decision is the two-valued outcome of a permission check.
type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "ALLOW"
	}
	return "DENY"
}

// Entity type namespace shared with the policy store.
const (
	EntityNamespace     = "SimplePosts"
	EntityTypeUser      = EntityNamespace + "::User"
	EntityTypePost      = EntityNamespace + "::Post"
	EntityTypeApp       = EntityNamespace + "::Application"
	ActionType          = EntityNamespace + "::Action"
	ApplicationEntityID = "app"
)

// Entity identifies a typed object in the policy store's world.
type Entity struct {
	Type string `json:"entityType"`
	ID   string `json:"entityId"`
}

// Query is the transient authorization question sent to the PDP. It lives for
// exactly one Evaluate call and is never persisted.
type Query struct {
	// IdentityToken is the caller's identity assertion, relayed opaquely.
	IdentityToken string `json:"identityToken"`
	Action        Entity `json:"action"`
	Resource      Entity `json:"resource"`
	// ResourceOwner annotates the resource with its owning principal so the
	// PDP can express "the owner may delete it" without store access.
	ResourceOwner *Entity `json:"resourceOwner,omitempty"`
}

// Evaluator is the capability interface the external PDP provides.
type Evaluator interface {
	Evaluate(ctx context.Context, q Query) (Decision, error)
}

// Mediator assembles queries and enforces fail-closed semantics around an
// Evaluator.
type Mediator struct {
	PDP Evaluator
}

// Authorize checks one action. When post is nil the query targets the
// well-known application entity, which is what blanket "any authenticated
// user may list/create" policies match against. Any evaluator error or
// non-ALLOW answer is a deny.
func (m *Mediator) Authorize(ctx context.Context, identityToken string, act action.Action, post *poststore.Post) Decision {
	if m == nil || m.PDP == nil {
		return Deny
	}
	q := Query{
		IdentityToken: identityToken,
		Action:        Entity{Type: ActionType, ID: act.String()},
		Resource:      Entity{Type: EntityTypeApp, ID: ApplicationEntityID},
	}
	if post != nil {
		q.Resource = Entity{Type: EntityTypePost, ID: post.PostID}
		q.ResourceOwner = &Entity{Type: EntityTypeUser, ID: post.OwnerID}
	}
	decision, err := m.PDP.Evaluate(ctx, q)
	if err != nil || decision != Allow {
		return Deny
	}
	return Allow
}
