// Package jwt issues and verifies short-lived signed access tokens.
//
// The payload is a flat JSON object:
//
//	{"userId": "...", "email": "...", "roles": [...], "permissions": [...], "iat": 0, "exp": 0}
//
// plus jti and, when configured, iss and aud. Verification is local: it needs
// only the verification key and the clock.
package jwt
