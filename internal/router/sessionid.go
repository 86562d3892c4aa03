package router

import "encoding/json"

// extractAndReplaceSessionID parses a NewSession response body, captures
// whatever session id the upstream minted (top-level for the legacy shape,
// or under "value" for W3C), and rewrites it to the externally-visible id
// the client will see. Both ids are then used identically by the rest of
// the router: every subsequent request is translated through the upstream
// id stored on the Session record, local and remote alike.
func extractAndReplaceSessionID(body []byte, externalID string) (rewritten []byte, upstreamID string, err error) {
	var generic map[string]interface{}
	if err := json.Unmarshal(body, &generic); err != nil {
		return nil, "", err
	}

	target := generic
	if v, ok := generic["value"].(map[string]interface{}); ok {
		target = v
	}

	id, _ := target["sessionId"].(string)
	if id == "" {
		return nil, "", errNoSessionID
	}
	target["sessionId"] = externalID

	out, err := json.Marshal(generic)
	if err != nil {
		return nil, "", err
	}
	return out, id, nil
}

var errNoSessionID = jsonFieldError("upstream response did not include a session id")

type jsonFieldError string

func (e jsonFieldError) Error() string { return string(e) }

// rewriteSessionIDInBody best-effort substitutes one session id for
// another wherever a response body echoes it (top-level or nested under
// "value"), as WebDriver status/info responses often do. On any parse
// failure, or if the id isn't present, the body is returned unchanged.
func rewriteSessionIDInBody(body []byte, from, to string) []byte {
	if from == to || len(body) == 0 {
		return body
	}

	var generic map[string]interface{}
	if err := json.Unmarshal(body, &generic); err != nil {
		return body
	}

	changed := false
	if v, ok := generic["sessionId"].(string); ok && v == from {
		generic["sessionId"] = to
		changed = true
	}
	if v, ok := generic["value"].(map[string]interface{}); ok {
		if id, ok := v["sessionId"].(string); ok && id == from {
			v["sessionId"] = to
			changed = true
		}
	}
	if !changed {
		return body
	}

	out, err := json.Marshal(generic)
	if err != nil {
		return body
	}
	return out
}
