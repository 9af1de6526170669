package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/jwtauth"

	"github.com/tendant/simple-assets/pkg/simpleassets"
	"github.com/tendant/simple-assets/pkg/simpleassets/api"
)

// TeamHeader carries the team the caller is acting in
const TeamHeader = "X-Team-ID"

// identityFromJWT resolves the caller from a token verified by
// jwtauth.Verifier. Claims: _id (user id), _subscription (plan, 0 is free)
// and _features ({"assets": n, "addons": [{"service": s, "allowed": b}]}).
func identityFromJWT(r *http.Request) (api.Identity, error) {
	token, claims, err := jwtauth.FromContext(r.Context())
	if err != nil {
		return api.Identity{}, err
	}
	if token == nil {
		return api.Identity{}, errors.New("missing token")
	}
	return identityFromClaims(claims, r.Header.Get(TeamHeader))
}

func identityFromClaims(claims map[string]interface{}, teamID string) (api.Identity, error) {
	userID, _ := claims["_id"].(string)
	if userID == "" {
		return api.Identity{}, errors.New("token has no _id claim")
	}

	var features simpleassets.FeatureDescriptor
	if sub, ok := claims["_subscription"].(float64); ok {
		features.Subscription = int(sub)
	}
	if raw, ok := claims["_features"]; ok && raw != nil {
		// round-trip through JSON to reuse FeatureDescriptor's tags
		b, err := json.Marshal(raw)
		if err != nil {
			return api.Identity{}, fmt.Errorf("invalid _features claim: %w", err)
		}
		var f struct {
			Assets int                  `json:"assets"`
			Addons []simpleassets.Addon `json:"addons"`
		}
		if err := json.Unmarshal(b, &f); err != nil {
			return api.Identity{}, fmt.Errorf("invalid _features claim: %w", err)
		}
		features.Assets = f.Assets
		features.Addons = f.Addons
	}

	return api.Identity{UserID: userID, TeamID: teamID, Features: features}, nil
}
