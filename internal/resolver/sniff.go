package resolver

import (
	"bytes"
	"fmt"
	"image"
	"net/http"
	"strings"

	// Decoders for the formats the catalog actually carries.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// verifyImage decides whether the fetched bytes would render in a browser.
// Gateways sometimes answer 200 with an HTML error page or a truncated
// file, so neither the status code nor the Content-Type header alone is
// trusted.
func verifyImage(contentType string, body []byte) error {
	if len(body) == 0 {
		return fmt.Errorf("empty body")
	}

	sniffed := http.DetectContentType(body)
	if strings.HasPrefix(sniffed, "image/") {
		// Stdlib-decodable formats get a header decode to catch
		// corrupt payloads; webp and friends pass on the sniff alone.
		switch sniffed {
		case "image/png", "image/jpeg", "image/gif":
			if _, _, err := image.DecodeConfig(bytes.NewReader(body)); err != nil {
				return fmt.Errorf("decode %s: %w", sniffed, err)
			}
		}
		return nil
	}

	// SVG sniffs as XML/text; trust the declared type for it.
	if base, _, _ := strings.Cut(contentType, ";"); strings.TrimSpace(base) == "image/svg+xml" {
		return nil
	}

	return fmt.Errorf("not an image (sniffed %s)", sniffed)
}
