// Package policy validates raw registration credentials before any hashing.
package policy
