// Package token issues and verifies compact HMAC-signed bearer tokens.
//
// A token is the unpadded base64url encoding of a JSON payload followed by a
// 32-byte HMAC-SHA256 tag over that payload:
//
//	base64url( {"c":{<claims>},"exp":<unix seconds>} || tag )
//
// Nothing is stored server side. A token is valid when the tag matches the
// exact payload bytes under the process key and the current time is before
// exp. Every failure is reported as [ErrInvalid].
package token
