package relay

import (
	"encoding/json"
	"regexp"
)

// addrChar is any character allowed in an address part: no whitespace in the
// Unicode sense (separators, vertical tab, BOM) and no '@'
const addrChar = `[^\s\x0B\p{Z}\x{FEFF}@]`

// emailPattern is the accepted shape of a recipient address
var emailPattern = regexp.MustCompile(`^` + addrChar + `+@` + addrChar + `+\.` + addrChar + `+$`)

// Request is a send request from a relay caller
type Request struct {
	To         string
	Subject    string
	Body       string
	HTML       string
	From       string
	SenderName string
	ReplyTo    string
}

// ValidationError reports a malformed send request
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

var errInvalidBody = &ValidationError{Message: "Invalid request body"}

// DecodeRequest parses and validates a JSON send request.
// Required fields must be non-empty strings; optional fields of the wrong type are ignored.
func DecodeRequest(data []byte) (*Request, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, errInvalidBody
	}

	req := &Request{}

	required := []struct {
		name string
		dst  *string
	}{
		{"to", &req.To},
		{"subject", &req.Subject},
		{"body", &req.Body},
	}
	for _, f := range required {
		s, ok := fields[f.name].(string)
		if !ok || s == "" {
			return nil, &ValidationError{Message: `Missing or invalid "` + f.name + `" field`}
		}
		*f.dst = s
	}

	if !emailPattern.MatchString(req.To) {
		return nil, &ValidationError{Message: `Invalid email format for "to" field`}
	}

	req.HTML, _ = fields["html"].(string)
	req.From, _ = fields["from"].(string)
	req.SenderName, _ = fields["senderName"].(string)
	req.ReplyTo, _ = fields["replyTo"].(string)

	return req, nil
}
