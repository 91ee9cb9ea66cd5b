package common

// UserIDHeaderName is the HTTP header carrying the opaque user identifier
// supplied by the upstream identity provider.
const UserIDHeaderName = "X-User-Id"

// AccessTokenHeaderName is the HTTP header used to carry a share access
// token on token-authenticated share reads.
const AccessTokenHeaderName = "Authorization"
