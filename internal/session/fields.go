package session

import "encoding/json"

// fieldErrors reads {"fields": {"email": "taken"}} or
// {"errors": [{"field": "email", "message": "taken"}]}.
func fieldErrors(body []byte) map[string]string {
	var obj struct {
		Fields map[string]string `json:"fields"`
		Errors []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	if json.Unmarshal(body, &obj) != nil {
		return nil
	}
	if len(obj.Fields) > 0 {
		return obj.Fields
	}
	if len(obj.Errors) == 0 {
		return nil
	}
	out := make(map[string]string, len(obj.Errors))
	for _, e := range obj.Errors {
		if e.Field != "" {
			out[e.Field] = e.Message
		}
	}
	return out
}
