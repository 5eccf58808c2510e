package notifier

import "encoding/json"

// Notification status values.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Payload is the terminal result delivered to the client that originated an
// operation. Data fields are flattened next to status/type on the wire.
type Payload struct {
	Status string
	Type   string
	Data   map[string]interface{}
	Error  string
}

// Success builds a success payload for the given operation type.
func Success(opType string, data map[string]interface{}) Payload {
	return Payload{Status: StatusSuccess, Type: opType, Data: data}
}

// Failure builds a failure payload for the given operation type.
func Failure(opType string, errMsg string, data map[string]interface{}) Payload {
	return Payload{Status: StatusFailed, Type: opType, Data: data, Error: errMsg}
}

// MarshalJSON flattens Data into the top-level object:
// {"status":..,"type":..,<data fields>,"error":..}.
func (p Payload) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(p.Data)+3)
	for k, v := range p.Data {
		out[k] = v
	}
	out["status"] = p.Status
	out["type"] = p.Type
	if p.Error != "" {
		out["error"] = p.Error
	}
	return json.Marshal(out)
}
