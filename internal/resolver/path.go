package resolver

import (
	"strings"

	"github.com/cloudpaste/cloudpaste/pkg/errors"
)

// NormalizePath implements §4.1's normalisation rules, adapted from the
// teacher's pkg/utils path validation: collapse repeated separators,
// resolve "." segments, reject ".." traversal, and preserve a trailing
// separator only when dirIntent is true.
func NormalizePath(raw string, dirIntent bool) (string, error) {
	if strings.ContainsRune(raw, '\x00') {
		return "", errors.Validation("resolver", "path must not contain NUL")
	}
	if raw == "" {
		raw = "/"
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}

	segments := strings.Split(raw, "/")
	var clean []string
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			return "", errors.Validation("resolver", "path contains a \"..\" segment")
		default:
			clean = append(clean, seg)
		}
	}

	result := "/" + strings.Join(clean, "/")
	if dirIntent && result != "/" {
		result += "/"
	}
	return result, nil
}

// SplitMount removes mountPath's prefix from p, returning the sub-path
// handed to the driver. p must already have been matched against
// mountPath by FindMount.
func SplitMount(mountPath, p string) string {
	if mountPath == "/" {
		return p
	}
	sub := strings.TrimPrefix(p, mountPath)
	if sub == "" {
		return "/"
	}
	if !strings.HasPrefix(sub, "/") {
		sub = "/" + sub
	}
	return sub
}

// IsUnderBase reports whether p lies under base (or equals it), used to
// enforce a principal's AllowedBasePath.
func IsUnderBase(base, p string) bool {
	if base == "" || base == "/" {
		return true
	}
	base = strings.TrimSuffix(base, "/")
	return p == base || strings.HasPrefix(p, base+"/")
}
