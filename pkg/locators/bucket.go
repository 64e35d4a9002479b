package locators

import (
	"fmt"
	"strings"
)

// SanitizeBucket accepts a bucket name in the [gs://]NAME[/] form and
// returns the bare name. The result must be non-empty and contain no '/'.
func SanitizeBucket(s string) (string, error) {
	b := strings.TrimPrefix(s, "gs://")
	b = strings.TrimSuffix(b, "/")
	if b == "" || strings.Contains(b, "/") {
		return "", fmt.Errorf("invalid bucket name %q", s)
	}
	return b, nil
}
