// Package jsonwrapper contains a JSON unmarshaler.
package jsonwrapper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
)

// differences with respect to the standard package:
// - prevents setting unknown fields
// - prevents reusing existing elements of slices
// - prevents setting slices to nil

func process(v reflect.Value, raw any, path string) error {
	switch v.Kind() {
	case reflect.Slice:
		if raw == nil {
			if path != "" {
				return fmt.Errorf("cannot set slice '%s' to nil", path)
			}
			return fmt.Errorf("cannot set slice to nil")
		}

		if !v.IsNil() {
			v.Set(reflect.Zero(v.Type()))
		}

	case reflect.Struct:
		rawMap, ok := raw.(map[string]any)
		if !ok {
			return nil
		}

		vType := v.Type()
		for i := 0; i < v.NumField(); i++ {
			key := strings.Split(vType.Field(i).Tag.Get("json"), ",")[0]
			if key == "" || key == "-" {
				continue
			}

			rawVal, ok := rawMap[key]
			if !ok {
				continue
			}

			fieldPath := key
			if path != "" {
				fieldPath = path + "." + key
			}

			err := process(v.Field(i), rawVal, fieldPath)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// Unmarshal decodes JSON.
func Unmarshal(buf []byte, dest any) error {
	return Decode(bytes.NewReader(buf), dest)
}

// Decode decodes JSON.
func Decode(r io.Reader, dest any) error {
	buf, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	var raw any
	err = json.Unmarshal(buf, &raw)
	if err != nil {
		return err
	}

	err = process(reflect.ValueOf(dest).Elem(), raw, "")
	if err != nil {
		return err
	}

	d := json.NewDecoder(bytes.NewReader(buf))
	d.DisallowUnknownFields()
	return d.Decode(dest)
}
