// Package jwt implements the stateless token codec: signing structured claims
// into opaque token strings and verifying them back.
//
// # Algorithm selection
//
// The signing algorithm is derived from the shape of the supplied key when
// the algorithm is left unspecified: a PEM-encoded Ed25519/RSA/EC private key
// selects the matching asymmetric algorithm, any other byte string is treated
// as a symmetric HMAC secret and the strength is picked from its length.
// Selection happens once in [NewCodec], never per call.
//
// # Architecture boundaries
//
// This package owns encode/decode and claims-shape validation only. Refresh
// metadata, rotation, and revocation are server-side state and live in the
// authgate root package.
//
// # What this package must NOT do
//
//   - Perform I/O or touch the cache.
//   - Import authgate or any sibling package.
package jwt
