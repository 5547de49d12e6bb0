// Package identity turns bearer credentials into portal identities.
//
// Three verifiers are provided, selected by Mode:
//
//   - ModeGoTrue asks the Supabase auth server who the token belongs to
//     (GET /auth/v1/user). This is the default and matches what hosted
//     Supabase clients do.
//   - ModeJWT validates the access token locally against the project's
//     HS256 JWT secret. No network call is made.
//   - ModeOIDC verifies ID tokens issued by any OpenID Connect provider and
//     can fall back to the provider's userinfo endpoint for opaque tokens.
//
// Every verifier returns portal.ErrNoIdentity (wrapped) when the credential is
// rejected, and a plain error when the identity service itself failed.
package identity
