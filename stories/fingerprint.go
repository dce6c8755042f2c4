// CLAUDE:SUMMARY Canonical request fingerprint: normalized fields serialized in fixed order, SHA-256 hex.
package stories

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
)

// normalizeRequest rewrites a request into its canonical form: the keyword
// is trimmed and lowercased (collapsing to absent when only whitespace),
// and a zero limit takes the default of 100. Validation runs on the raw
// request before this.
func normalizeRequest(req FetchRequest) FetchRequest {
	if req.Limit == 0 {
		req.Limit = 100
	}
	if req.Keyword != nil {
		k := strings.ToLower(strings.TrimSpace(*req.Keyword))
		if k == "" {
			req.Keyword = nil
		} else {
			req.Keyword = &k
		}
	}
	return req
}

// Fingerprint returns the deduplication identity of a normalized request.
// Fields serialize in fixed order with absent fields omitted, so requests
// differing only in field order, keyword case, or surrounding whitespace
// share a fingerprint. The limit is part of the identity: asking for more
// items is different work.
func Fingerprint(req FetchRequest) string {
	parts := []string{"limit=" + strconv.Itoa(req.Limit)}
	if req.MinScore != nil {
		parts = append(parts, "min_score="+strconv.Itoa(*req.MinScore))
	}
	if req.Keyword != nil {
		parts = append(parts, "keyword="+url.QueryEscape(*req.Keyword))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "&")))
	return hex.EncodeToString(sum[:])
}
