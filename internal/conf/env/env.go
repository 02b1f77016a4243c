// Package env contains a function to load configuration from environment.
package env

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
)

// Unmarshaler can be implemented to override the unmarshaling process.
type Unmarshaler interface {
	UnmarshalEnv(prefix string, v string) error
}

func hasKeyWithPrefix(env map[string]string, prefix string) bool {
	for key := range env {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "yes", "true":
		return true, nil

	case "no", "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid value '%s'", v)
}

func loadInternal(env map[string]string, prefix string, prv reflect.Value) error {
	if prv.Kind() != reflect.Pointer {
		return loadInternal(env, prefix, prv.Addr())
	}

	rt := prv.Type().Elem()

	if i, ok := prv.Interface().(Unmarshaler); ok {
		if ev, ok := env[prefix]; ok {
			if prv.IsNil() {
				prv.Set(reflect.New(rt))
				i = prv.Interface().(Unmarshaler)
			}
			err := i.UnmarshalEnv(prefix, ev)
			if err != nil {
				return fmt.Errorf("%s: %w", prefix, err)
			}
		}
		return nil
	}

	ev, isSet := env[prefix]

	switch rt.Kind() {
	case reflect.String:
		if isSet {
			if prv.IsNil() {
				prv.Set(reflect.New(rt))
			}
			prv.Elem().SetString(ev)
		}
		return nil

	case reflect.Int, reflect.Int64:
		if isSet {
			if prv.IsNil() {
				prv.Set(reflect.New(rt))
			}
			iv, err := strconv.ParseInt(ev, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", prefix, err)
			}
			prv.Elem().SetInt(iv)
		}
		return nil

	case reflect.Uint, reflect.Uint64:
		if isSet {
			if prv.IsNil() {
				prv.Set(reflect.New(rt))
			}
			iv, err := strconv.ParseUint(ev, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", prefix, err)
			}
			prv.Elem().SetUint(iv)
		}
		return nil

	case reflect.Float64:
		if isSet {
			if prv.IsNil() {
				prv.Set(reflect.New(rt))
			}
			fv, err := strconv.ParseFloat(ev, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", prefix, err)
			}
			prv.Elem().SetFloat(fv)
		}
		return nil

	case reflect.Bool:
		if isSet {
			if prv.IsNil() {
				prv.Set(reflect.New(rt))
			}
			bv, err := parseBool(ev)
			if err != nil {
				return fmt.Errorf("%s: %w", prefix, err)
			}
			prv.Elem().SetBool(bv)
		}
		return nil

	case reflect.Pointer:
		if hasKeyWithPrefix(env, prefix) {
			if prv.Elem().IsNil() {
				prv.Elem().Set(reflect.New(rt.Elem()))
			}
			return loadInternal(env, prefix, prv.Elem())
		}
		return nil

	case reflect.Struct:
		// optional structs are allocated only when one of their fields is set
		if prv.IsNil() {
			if !hasKeyWithPrefix(env, prefix+"_") {
				return nil
			}
			prv.Set(reflect.New(rt))
		}

		flen := rt.NumField()
		for i := 0; i < flen; i++ {
			f := rt.Field(i)
			jsonTag := strings.Split(f.Tag.Get("json"), ",")[0]

			// skip fields without a json tag
			if jsonTag == "" || jsonTag == "-" {
				continue
			}

			err := loadInternal(env, prefix+"_"+strings.ToUpper(jsonTag), prv.Elem().Field(i))
			if err != nil {
				return err
			}
		}
		return nil

	case reflect.Slice:
		if rt.Elem().Kind() == reflect.String && isSet {
			if prv.IsNil() {
				prv.Set(reflect.New(rt))
			}
			if ev == "" {
				prv.Elem().Set(reflect.MakeSlice(rt, 0, 0))
			} else {
				prv.Elem().Set(reflect.ValueOf(strings.Split(ev, ",")).Convert(rt))
			}
			return nil
		}
		if rt.Elem().Kind() == reflect.String {
			return nil
		}
	}

	return fmt.Errorf("unsupported type: %v", rt)
}

func loadWithEnv(env map[string]string, prefix string, v any) error {
	return loadInternal(env, prefix, reflect.ValueOf(v).Elem())
}

func envToMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		tmp := strings.SplitN(kv, "=", 2)
		env[tmp[0]] = tmp[1]
	}
	return env
}

// Load loads the configuration from the environment.
func Load(prefix string, v any) error {
	return loadWithEnv(envToMap(), prefix, v)
}
