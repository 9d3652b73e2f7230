// Package sharing runs the invite workflow through which a device owner
// grants other users access.
//
// Invite lifecycle:
//
//	           AcceptInvite (before expiry, once)
//	pending ───────────────────────────────────▶ accepted ──▶ Share upserted
//	   │
//	   ├── RevokeInvite ──────────────────────▶ revoked
//	   │
//	   └── expires_at passes (observed lazily) ▶ expired
//
// Terminal states never change. Expiry is evaluated when an invite is read,
// accepted or revoked, and in bulk by ExpirePending; no background job is
// needed for correctness.
//
// A Share is the durable grant. It is distinct from ownership: shares are
// keyed by (serial, user_id) and carry a Permission level.
//
// Authorisation (only the owner may invite, revoke or unshare) is enforced by
// the store façade, which knows the current owner; this package trusts its
// caller.
package sharing
