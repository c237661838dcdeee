package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Action is the closed taxonomy of audited operations.
type Action string

const (
	ActionReleaseCreate    Action = "release.create"
	ActionReleaseDeprecate Action = "release.deprecate"
	ActionKeyRotate        Action = "key.rotate"
	ActionSettingsUpdate   Action = "settings.update"
)

// Result is the outcome of an audited request.
type Result string

const (
	ResultSuccess  Result = "success"
	ResultRejected Result = "rejected"
)

// UnknownFingerprint marks requests that never authenticated.
const UnknownFingerprint = "unknown"

// MaxEntries caps the persisted audit log.
const MaxEntries = 1000

// hashedIPLength is the number of hex characters kept from the address digest.
const hashedIPLength = 16

// Entry is one audit record.
type Entry struct {
	Timestamp         time.Time `json:"timestamp"`
	Action            Action    `json:"action"`
	IP                string    `json:"ip"`
	APIKeyFingerprint string    `json:"apiKeyFingerprint"`
	Version           string    `json:"version,omitempty"`
	Result            Result    `json:"result"`
	Reason            string    `json:"reason,omitempty"`
	// RequestID correlates the entry with the request log line.
	RequestID string `json:"requestId,omitempty"`
}

var versionInPath = regexp.MustCompile(`/releases/([^/]+)`)

// IsAudited reports whether requests with the method mutate state.
func IsAudited(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

// InferAction maps a method and path onto the action taxonomy.
func InferAction(method, path string) Action {
	switch {
	case method == http.MethodPost && strings.Contains(path, "/releases"):
		return ActionReleaseCreate
	case method == http.MethodDelete && strings.Contains(path, "/releases"):
		return ActionReleaseDeprecate
	case strings.Contains(path, "/keys/rotate"):
		return ActionKeyRotate
	default:
		return ActionSettingsUpdate
	}
}

// VersionFromPath extracts the release version segment, if any.
func VersionFromPath(path string) string {
	match := versionInPath.FindStringSubmatch(path)
	if len(match) < 2 {
		return ""
	}

	return match[1]
}

// HashIP salts and hashes a client address and keeps a short prefix.
func HashIP(salt, ip string) string {
	sum := sha256.Sum256([]byte(salt + ip))

	return hex.EncodeToString(sum[:])[:hashedIPLength]
}

// New builds an entry for a completed request.
func New(now time.Time, method, path string, status int, hashedIP, fingerprint string) Entry {
	if fingerprint == "" {
		fingerprint = UnknownFingerprint
	}

	entry := Entry{
		Timestamp:         now.UTC(),
		Action:            InferAction(method, path),
		IP:                hashedIP,
		APIKeyFingerprint: fingerprint,
		Version:           VersionFromPath(path),
		Result:            ResultSuccess,
	}

	if status >= http.StatusBadRequest {
		entry.Result = ResultRejected
		entry.Reason = "HTTP " + strconv.Itoa(status)
	}

	return entry
}

// Prepend puts entry first and trims the log to limit entries.
func Prepend(log []Entry, entry Entry, limit int) []Entry {
	out := make([]Entry, 0, min(len(log)+1, limit))
	out = append(out, entry)

	for _, e := range log {
		if len(out) >= limit {
			break
		}

		out = append(out, e)
	}

	return out
}

// Page is one window of the audit log.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Paginate slices log into a page. Limit is clamped to [1, MaxEntries] and offset to >= 0.
func Paginate(log []Entry, limit, offset int) Page {
	limit = max(1, min(limit, MaxEntries))
	offset = max(0, offset)

	page := Page{
		Entries: []Entry{},
		Total:   len(log),
		Limit:   limit,
		Offset:  offset,
	}

	if offset >= len(log) {
		return page
	}

	end := min(offset+limit, len(log))
	page.Entries = append(page.Entries, log[offset:end]...)

	return page
}
