// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package fetch

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// decodeDataURL decodes an RFC 2397 data: locator. Catalog entries use it to
// embed short caption files.
func decodeDataURL(locator string, maxBytes int64) ([]byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(locator, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("%w: data locator without payload", ErrLocator)
	}

	var body []byte
	if strings.HasSuffix(header, ";base64") {
		b, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			b, err = base64.RawStdEncoding.DecodeString(payload)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLocator, err)
		}
		body = b
	} else {
		s, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLocator, err)
		}
		body = []byte(s)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxBytes)
	}
	return body, nil
}
