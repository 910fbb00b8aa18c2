package control

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// decodeBody decodes a JSON request body into dst. Endpoints that also
// accept HTML form submissions (POST /control) parse forms separately;
// this helper covers the JSON API surface.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return fmt.Errorf("empty request body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
