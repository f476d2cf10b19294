// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// capsession (session authentication against a remote identity provider)
// provides a collection of related packages which let a web application log
// accounts in, keep them logged in with token cookies and log them out again.
//
// The packages are:
//   - identity: the provider contract, with remote and identitytest
//     implementations
//   - cookie: the access and refresh token cookies
//   - session: creating, refreshing and destroying sessions
//   - resolver: resolving the account behind every request
//   - authn: password logins
//   - revoke: token revocation
//   - federated: completing logins performed on a hosted login site
//   - handlers: the HTTP endpoints, mounted on a chi router
package capsession
