package portal

import "strings"

const (
	bearerPrefix = "Bearer "

	// DefaultReturnPath is appended to the caller's origin to form the
	// portal's post-exit destination
	DefaultReturnPath = "/subscription"
)

// ExtractBearerToken pulls the credential out of an Authorization header.
// A literal "Bearer " prefix is stripped when present; a header without the
// prefix is taken as the credential itself.
func ExtractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingAuthorization
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	if token == "" || token == strings.TrimSpace(bearerPrefix) {
		return "", ErrEmptyCredential
	}

	return token, nil
}

// ReturnURL builds the portal return destination as {origin}{path}.
//
// The origin is not validated. When it is empty and fallbackOrigin is set,
// the fallback is used instead; otherwise the result is the bare path and the
// provider decides whether to accept it.
func ReturnURL(origin, path, fallbackOrigin string) string {
	if path == "" {
		path = DefaultReturnPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if origin == "" {
		origin = fallbackOrigin
	}
	return origin + path
}
