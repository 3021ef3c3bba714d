package authz

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/martinpagelaws/simpleposts/pkg/httpx"
	"github.com/martinpagelaws/simpleposts/pkg/store"
)

// HTTPEvaluator calls the PDP's authorize endpoint. The PDP is a black box;
// only the wire contract below is assumed.
type HTTPEvaluator struct {
	Client     *http.Client
	URL        string
	AuthHeader string
	AuthToken  string
	Retries    int
	RetryDelay time.Duration
}

type evaluateResponse struct {
	Decision string `json:"decision"`
}

func (e HTTPEvaluator) Evaluate(ctx context.Context, q Query) (Decision, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return Deny, err
	}
	status, respBody, err := httpx.RequestJSON(ctx, e.Client, http.MethodPost, e.URL, body, e.AuthHeader, e.AuthToken, e.Retries, e.RetryDelay)
	if err != nil {
		return Deny, err
	}
	if status != http.StatusOK {
		return Deny, fmt.Errorf("pdp returned status %d", status)
	}
	var resp evaluateResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return Deny, err
	}
	if resp.Decision == "ALLOW" {
		return Allow, nil
	}
	return Deny, nil
}

// CachedEvaluator memoizes decisions for a short TTL. A zero TTL disables
// caching entirely. Only the decision string is cached; errors never are.
type CachedEvaluator struct {
	Inner Evaluator
	Cache store.Cache
	TTL   time.Duration
}

func (c CachedEvaluator) Evaluate(ctx context.Context, q Query) (Decision, error) {
	if c.Inner == nil {
		return Deny, fmt.Errorf("no evaluator configured")
	}
	if c.Cache == nil || c.TTL <= 0 {
		return c.Inner.Evaluate(ctx, q)
	}
	key := cacheKey(q)
	if cached, err := c.Cache.Get(ctx, key); err == nil {
		if cached == "ALLOW" {
			return Allow, nil
		}
		return Deny, nil
	}
	decision, err := c.Inner.Evaluate(ctx, q)
	if err != nil {
		return decision, err
	}
	_ = c.Cache.Set(ctx, key, decision.String(), c.TTL)
	return decision, nil
}

func cacheKey(q Query) string {
	owner := ""
	if q.ResourceOwner != nil {
		owner = q.ResourceOwner.Type + "/" + q.ResourceOwner.ID
	}
	sum := sha256.Sum256([]byte(q.IdentityToken + "|" + q.Action.ID + "|" + q.Resource.Type + "/" + q.Resource.ID + "|" + owner))
	return fmt.Sprintf("authz:%x", sum[:16])
}
