// Package pathpolicy validates file paths before the workspace writes them.
// Validation runs against the relative path as proposed by the agent; the
// workspace resolves it under the sandbox root afterwards.
package pathpolicy

import (
	"fmt"
	"path"
	"strings"
)

// forbiddenPrefixes are directories no change may touch, regardless of stack.
var forbiddenPrefixes = []string{
	".git/",
	"node_modules/",
	".github/",
	".circleci/",
	"infra/",
	"terraform/",
	"deploy/",
	"vendor/",
	"dist/",
	"build/",
}

// forbiddenFiles are exact (base) names no change may touch.
var forbiddenFiles = []string{
	".env",
	".env.local",
	".env.production",
	"package-lock.json",
	"pnpm-lock.yaml",
	"yarn.lock",
	"Dockerfile",
	"docker-compose.yml",
	"docker-compose.yaml",
}

// forbiddenExts are extensions carrying key material.
var forbiddenExts = []string{".pem", ".key", ".crt", ".p12", ".pfx"}

// Verdict is the result of validating one path.
type Verdict struct {
	Allowed          bool
	RequiresApproval bool
	Reason           string
}

// Validate checks a single relative path against the policy. Paths outside
// the allowed-directory whitelist are still permitted but force approval.
func Validate(p string, allowedDirs []string) Verdict {
	if p == "" {
		return Verdict{Reason: "empty path"}
	}
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, "\\") {
		return Verdict{Reason: fmt.Sprintf("absolute path not allowed: %s", p)}
	}
	clean := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	if clean == ".." || strings.HasPrefix(clean, "../") || strings.Contains(p, "..") {
		return Verdict{Reason: fmt.Sprintf("path traversal not allowed: %s", p)}
	}

	for _, prefix := range forbiddenPrefixes {
		if strings.HasPrefix(clean, prefix) || clean == strings.TrimSuffix(prefix, "/") {
			return Verdict{Reason: fmt.Sprintf("forbidden directory: %s", p)}
		}
	}

	base := path.Base(clean)
	for _, name := range forbiddenFiles {
		if base == name || (name == ".env" && strings.HasPrefix(base, ".env")) {
			return Verdict{Reason: fmt.Sprintf("forbidden file: %s", p)}
		}
	}

	for _, ext := range forbiddenExts {
		if strings.HasSuffix(base, ext) {
			return Verdict{Reason: fmt.Sprintf("forbidden file type: %s", p)}
		}
	}

	for _, dir := range allowedDirs {
		if strings.HasPrefix(clean, dir) {
			return Verdict{Allowed: true}
		}
	}
	// Outside the stack whitelist: allowed, but a human signs off.
	return Verdict{Allowed: true, RequiresApproval: true}
}

// ValidateAll validates every path and reports the first rejection, along
// with whether any accepted path requires approval.
func ValidateAll(paths []string, allowedDirs []string) (requiresApproval bool, err error) {
	for _, p := range paths {
		v := Validate(p, allowedDirs)
		if !v.Allowed {
			return false, fmt.Errorf("path validation: %s", v.Reason)
		}
		if v.RequiresApproval {
			requiresApproval = true
		}
	}
	return requiresApproval, nil
}
