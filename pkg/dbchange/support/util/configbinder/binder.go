// Package configbinder binds loosely typed maps (decoded YAML, configuration sections) onto structs.
package configbinder

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// BindProperties binds properties to target using the "yaml" struct tags.
// Strings are converted to numbers and bools where needed, and duration strings such as "30s"
// are accepted for time.Duration fields.
func BindProperties(properties map[string]interface{}, target interface{}) error {
	if len(properties) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}
	if err := decoder.Decode(properties); err != nil {
		targetType := reflect.TypeOf(target)
		if targetType.Kind() == reflect.Ptr {
			targetType = targetType.Elem()
		}
		return fmt.Errorf("failed to bind properties to struct %s: %w", targetType.Name(), err)
	}
	return nil
}

// BindAny binds an arbitrary decoded value (typically the interface{} held in a config map) onto target.
func BindAny(raw interface{}, target interface{}) error {
	switch v := raw.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		return BindProperties(v, target)
	case map[interface{}]interface{}:
		converted := make(map[string]interface{}, len(v))
		for k, val := range v {
			converted[fmt.Sprint(k)] = val
		}
		return BindProperties(converted, target)
	default:
		return fmt.Errorf("cannot bind value of type %T", raw)
	}
}
