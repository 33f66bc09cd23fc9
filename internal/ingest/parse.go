package ingest

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pairvote/pairvote/internal/model"
)

// feedRecord is the wire shape of one catalog feed line. The image field
// accepts either a structured object or a bare string (CID, ipfs:// URI,
// or gateway URL).
type feedRecord struct {
	TokenID    string          `json:"token_id"`
	Collection string          `json:"collection"`
	Name       string          `json:"name"`
	Image      json.RawMessage `json:"image"`
}

type feedImage struct {
	CID string `json:"cid"`
	URL string `json:"url"`
}

// ParseFeedLine parses one JSON catalog line into an NFT record.
// Returns nil when the line is malformed or missing required fields.
func ParseFeedLine(line string) *model.NFT {
	var rec feedRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return nil
	}
	if strings.TrimSpace(rec.TokenID) == "" {
		return nil
	}

	ref := parseImageRef(rec.Image)
	if ref.CID == "" && ref.URLHint == "" {
		return nil
	}

	return &model.NFT{
		TokenID:    strings.TrimSpace(rec.TokenID),
		Collection: strings.TrimSpace(rec.Collection),
		Name:       strings.TrimSpace(rec.Name),
		Image:      ref,
		AddedAt:    time.Now().UTC(),
	}
}

func parseImageRef(raw json.RawMessage) model.ImageRef {
	if len(raw) == 0 {
		return model.ImageRef{}
	}

	var obj feedImage
	if err := json.Unmarshal(raw, &obj); err == nil && (obj.CID != "" || obj.URL != "") {
		ref := model.ImageRef{CID: strings.TrimSpace(obj.CID), URLHint: strings.TrimSpace(obj.URL)}
		if ref.CID == "" {
			ref.CID = ExtractCID(ref.URLHint)
		}
		return ref
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return model.ImageRef{}
	}
	return refFromString(strings.TrimSpace(s))
}

// refFromString interprets a bare image string: an ipfs:// URI, an http(s)
// URL, or a raw CID.
func refFromString(s string) model.ImageRef {
	if s == "" {
		return model.ImageRef{}
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return model.ImageRef{CID: ExtractCID(s), URLHint: s}
	}
	if cid := ExtractCID(s); cid != "" {
		return model.ImageRef{CID: cid}
	}
	return model.ImageRef{}
}

// ExtractCID pulls a content identifier out of an ipfs:// URI, a gateway
// URL with an /ipfs/ path, or a bare CID string. Returns "" when no CID
// can be identified.
func ExtractCID(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if rest, ok := strings.CutPrefix(s, "ipfs://"); ok {
		rest = strings.TrimPrefix(rest, "ipfs/")
		return firstPathSegment(rest)
	}

	if idx := strings.Index(s, "/ipfs/"); idx >= 0 {
		return firstPathSegment(s[idx+len("/ipfs/"):])
	}

	if looksLikeCID(s) {
		return s
	}
	return ""
}

func firstPathSegment(s string) string {
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if looksLikeCID(s) {
		return s
	}
	return ""
}

// looksLikeCID is a cheap shape check: CIDv0 (Qm..., 46 chars base58) or
// CIDv1 (b..., base32). Full multibase validation is not worth carrying
// for a trusted feed.
func looksLikeCID(s string) bool {
	if len(s) < 10 {
		return false
	}
	if strings.HasPrefix(s, "Qm") && len(s) == 46 {
		return true
	}
	if strings.HasPrefix(s, "b") && len(s) >= 32 {
		for _, c := range s {
			if !(c >= 'a' && c <= 'z' || c >= '2' && c <= '7') {
				return false
			}
		}
		return true
	}
	return false
}
