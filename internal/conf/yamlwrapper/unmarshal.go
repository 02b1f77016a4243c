// Package yamlwrapper contains a YAML unmarshaler.
package yamlwrapper

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v2"

	"github.com/bluenviron/mp4pipe/internal/conf/jsonwrapper"
)

func convertKeys(i any) (any, error) {
	switch x := i.(type) {
	case map[any]any:
		m2 := map[string]any{}
		for k, v := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("integer keys are not supported (%v)", k)
			}

			var err error
			m2[ks], err = convertKeys(v)
			if err != nil {
				return nil, err
			}
		}
		return m2, nil

	case []any:
		a2 := make([]any, len(x))
		for i, v := range x {
			var err error
			a2[i], err = convertKeys(v)
			if err != nil {
				return nil, err
			}
		}
		return a2, nil
	}

	return i, nil
}

// Unmarshal loads the configuration from YAML.
// yaml.v2 accepts the legacy YAML 1.1 booleans (yes, no).
func Unmarshal(buf []byte, dest any) error {
	// duplicate keys are rejected
	var temp any
	err := yaml.UnmarshalStrict(buf, &temp)
	if err != nil {
		return err
	}

	// an empty document still has to produce a valid JSON object
	if temp == nil {
		temp = map[string]any{}
	}

	temp, err = convertKeys(temp)
	if err != nil {
		return err
	}

	buf, err = json.Marshal(temp)
	if err != nil {
		return err
	}

	return jsonwrapper.Unmarshal(buf, dest)
}
