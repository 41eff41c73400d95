// Package auth provides operator authentication for the VoiceLink admin API.
//
// Devices connecting to the gateway WebSocket are deliberately
// unauthenticated (they live on the trusted local network); auth covers
// only the operator surface:
//   - Argon2id password hashing (OWASP 2025 recommendation), with the
//     operator hash stored in config as a PHC string
//   - Short-lived HS256 JWT access tokens for admin endpoints
//
// There is a single administrative identity ("operator"): no user
// accounts, roles, or refresh tokens.
package auth
