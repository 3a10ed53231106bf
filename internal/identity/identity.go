// Package identity implements the MedLedger write-access identity layer.
//
// It provides:
//   - TokenIssuer  — issues and verifies HS256 JWT writer tokens
//   - APIKeyCheck  — verifies a presented API key against its bcrypt hash
//   - RequireToken — Gin middleware enforcing Bearer writer-token authentication
//
// Writers exchange their API key for a short-lived JWT and present the JWT on
// every mutating call. When no API-key hash is configured the service runs in
// open mode and write auth is disabled.
package identity
