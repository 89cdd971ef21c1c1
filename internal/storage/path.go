package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var (
	pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)
	unsafeNameChars      = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
)

// BuildUploadPath is the archive key of a session's uploaded database:
// uploads/<session>/<name>.sqlite, with name derived from the client file name.
func BuildUploadPath(sessionID, fileName string) (string, error) {
	if err := validatePathComponent(sessionID, "session id"); err != nil {
		return "", err
	}
	base := path.Base(strings.ReplaceAll(fileName, `\`, "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	base = strings.Trim(unsafeNameChars.ReplaceAllString(base, "_"), "._-")
	if base == "" {
		base = "database"
	}
	if len(base) > 100 {
		base = base[:100]
	}
	return path.Join("uploads", sessionID, base+".sqlite"), nil
}

// BuildExportPath is the key of one exported result: exports/<session>/<turn>.parquet.
func BuildExportPath(sessionID string, turn int64) (string, error) {
	if err := validatePathComponent(sessionID, "session id"); err != nil {
		return "", err
	}
	if turn < 0 {
		return "", fmt.Errorf("turn must be >= 0")
	}
	return path.Join("exports", sessionID, fmt.Sprintf("%06d.parquet", turn)), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}

// Key roots under the configured bucket prefix.
const (
	UploadsRoot = "uploads"
	ExportsRoot = "exports"
	HealthRoot  = "health"
)

// ReadinessKey is stat-ed by the readiness check; it is never written.
const ReadinessKey = HealthRoot + "/ready"

// SessionPrefix is the key prefix holding everything root keeps for a session.
func SessionPrefix(root, sessionID string) (string, error) {
	if root != UploadsRoot && root != ExportsRoot {
		return "", fmt.Errorf("unknown key root %q", root)
	}
	if err := validatePathComponent(sessionID, "session id"); err != nil {
		return "", err
	}
	return path.Join(root, sessionID), nil
}

// ParseKey splits a key into its root and, for session-owned roots, the
// session id. Keys outside the known roots are rejected.
func ParseKey(key string) (root, sessionID string, err error) {
	parts := strings.SplitN(key, "/", 3)
	switch parts[0] {
	case HealthRoot:
		if len(parts) < 2 || parts[1] == "" {
			return "", "", fmt.Errorf("invalid object key: %q", key)
		}
		return HealthRoot, "", nil
	case UploadsRoot, ExportsRoot:
		if len(parts) < 3 || parts[2] == "" {
			return "", "", fmt.Errorf("invalid object key: %q", key)
		}
		if err := validatePathComponent(parts[1], "session id"); err != nil {
			return "", "", err
		}
		return parts[0], parts[1], nil
	default:
		return "", "", fmt.Errorf("object key %q is outside %s/, %s/ and %s/", key, UploadsRoot, ExportsRoot, HealthRoot)
	}
}
