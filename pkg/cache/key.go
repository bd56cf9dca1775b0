package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// KeyPrefix starts every property cache key.
const KeyPrefix = "crmexport:properties"

// Key identifies the cached property list of one object type.
type Key struct {
	// Namespace separates accounts sharing one Redis (see Namespace).
	Namespace string

	// Object is the object type, e.g. "contacts".
	Object string
}

// String generates the Redis key.
// Format: crmexport:properties[:namespace]:object
//
// Example:
//
//	crmexport:properties:3f2a9c1b0d4e:contacts
func (k Key) String() string {
	parts := []string{KeyPrefix}
	if k.Namespace != "" {
		parts = append(parts, k.Namespace)
	}
	parts = append(parts, strings.Trim(k.Object, "/"))
	return strings.Join(parts, ":")
}

// Namespace derives a stable, non-reversible namespace from an access token,
// so two accounts never read each other's property lists.
func Namespace(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}
