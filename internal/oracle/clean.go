package oracle

import (
	"encoding/json"
	"strings"
)

// CleanJSON strips markdown fences and surrounding prose from a model reply
// and returns the JSON object it contains.
func CleanJSON(text string) (json.RawMessage, *Error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimSpace(s)
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return nil, &Error{Kind: KindMalformed, Message: "no JSON object in response"}
	}
	s = s[start : end+1]

	if !json.Valid([]byte(s)) {
		return nil, &Error{Kind: KindMalformed, Message: "response is not valid JSON"}
	}
	return json.RawMessage(s), nil
}
