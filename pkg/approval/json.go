package approval

import "encoding/json"

// jsonTopLevelKeys returns the top-level field names of a JSON object
// payload, for validating a modify decision's keys against
// wfstate.ModifiableFields without decoding into a gate-specific type.
func jsonTopLevelKeys(payload []byte) ([]string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	return keys, nil
}
