// Package httpapi exposes the userauth engine over JSON/HTTP.
//
// Routes:
//
//	POST /register        {username, email, password} -> {message, user, token}
//	POST /login           {email, password}           -> {token}
//	POST /auth/federated  {id_token}                  -> {token}
//	GET  /session         Bearer token                -> {email, name}
//	GET  /brewboard       list of {username, email}
//	GET  /                embedded landing page
//	GET  /healthz         liveness
//
// Errors are JSON objects with a single "detail" field.
package httpapi
