// internal/config/oidc.go
//
// OpenID Connect relying-party settings, loaded as one atomic group.
package config

import "time"

const (
	defaultJWKSEndpoint = "http://keycloak_bv.nginx_door_commander_external:8080/realms/ZAM/protocol/openid-connect/certs"
	defaultSignAlgo     = "RS256"
	idTokenRenewAfter   = 15 * time.Minute
)

// OIDC configures the login flow against the identity provider.
type OIDC struct {
	ClientID              string        `json:"client_id" validate:"required"`
	ClientSecret          Secret        `json:"client_secret" validate:"required"`
	AuthorizationEndpoint string        `json:"authorization_endpoint" validate:"required,url"`
	TokenEndpoint         string        `json:"token_endpoint" validate:"required,url"`
	UserEndpoint          string        `json:"user_endpoint" validate:"required,url"`
	LogoutURL             string        `json:"logout_url" validate:"required,url"`
	JWKSEndpoint          string        `json:"jwks_endpoint" validate:"required,url"`
	SignAlgo              string        `json:"sign_algo" validate:"oneof=RS256 RS384 RS512 ES256 HS256"`
	RenewIDTokenAfter     time.Duration `json:"renew_id_token_after"`
	Scopes                []string      `json:"scopes" validate:"min=1"`
}

func loadOIDC(src *Source) Feature[OIDC] {
	return Atomic(src, "oidc", func(g *Group) (OIDC, error) {
		return OIDC{
			ClientID:              g.Require("OIDC_RP_CLIENT_ID"),
			ClientSecret:          Secret(g.Require("OIDC_RP_CLIENT_SECRET")),
			AuthorizationEndpoint: g.Require("OIDC_OP_AUTHORIZATION_ENDPOINT"),
			TokenEndpoint:         g.Require("OIDC_OP_TOKEN_ENDPOINT"),
			UserEndpoint:          g.Require("OIDC_OP_USER_ENDPOINT"),
			LogoutURL:             g.Require("OIDC_OP_LOGOUT_URL"),
			JWKSEndpoint:          g.Optional("OIDC_OP_JWKS_ENDPOINT", defaultJWKSEndpoint),
			SignAlgo:              g.Optional("OIDC_RP_SIGN_ALGO", defaultSignAlgo),
			RenewIDTokenAfter:     idTokenRenewAfter,
			Scopes:                []string{"openid", "email"},
		}, nil
	})
}
