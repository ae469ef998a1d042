package store

import (
	"encoding/base64"
	"encoding/json"
	"hash/fnv"

	"github.com/ashita-ai/kiroku/internal/model"
)

// pageToken is the decoded form of the opaque wire token: the issuing
// query's fingerprint plus the resume position.
type pageToken struct {
	Fingerprint uint64 `json:"f"`
	Offset      int64  `json:"o"`
}

// EncodePageToken builds the opaque token returned with a partial page.
func EncodePageToken(fingerprint uint64, offset int64) string {
	b, _ := json.Marshal(pageToken{Fingerprint: fingerprint, Offset: offset})
	return base64.StdEncoding.EncodeToString(b)
}

// DecodePageToken validates a client-supplied token against the current
// query's fingerprint and returns the resume offset. An empty token means
// start from the beginning. A token minted by a structurally different
// query is rejected.
func DecodePageToken(token string, fingerprint uint64) (int64, error) {
	if token == "" {
		return 0, nil
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return 0, model.Errorf(model.ErrCodeInvalidParameterValue, "invalid page token")
	}
	var t pageToken
	if err := json.Unmarshal(raw, &t); err != nil || t.Offset < 0 {
		return 0, model.Errorf(model.ErrCodeInvalidParameterValue, "invalid page token")
	}
	if t.Fingerprint != fingerprint {
		return 0, model.Errorf(model.ErrCodeInvalidParameterValue,
			"page token was issued by a different query")
	}
	return t.Offset, nil
}

func fingerprint(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// Paginate slices a fully ordered result set at the token's offset. It
// returns the page and the next token ("" when the set is exhausted).
// Backends that cannot push pagination into their query engine share this.
func Paginate[T any](items []T, fingerprint uint64, token string, maxResults int64) ([]T, string, error) {
	maxResults = EffectiveMaxResults(maxResults)
	offset, err := DecodePageToken(token, fingerprint)
	if err != nil {
		return nil, "", err
	}
	if offset >= int64(len(items)) {
		return nil, "", nil
	}
	end := offset + maxResults
	if end >= int64(len(items)) {
		return items[offset:], "", nil
	}
	return items[offset:end], EncodePageToken(fingerprint, end), nil
}
