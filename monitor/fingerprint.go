package monitor

import (
	"crypto/md5"
	"fmt"
)

// Fingerprint returns the lowercase-hex MD5 digest of the normalized form
// of raw. It is an equality fingerprint for change detection, stable across
// runs and restarts; collision resistance is not a requirement here and the
// digest must never be used for integrity or authentication.
func Fingerprint(raw string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(Normalize(raw))))
}
