package cli

import (
	"reflect"

	"github.com/alecthomas/kong"
)

// tagValueMapper creates a Kong mapper for TagValue.
func tagValueMapper() kong.MapperFunc {
	return func(ctx *kong.DecodeContext, target reflect.Value) error {
		var s string
		if err := ctx.Scan.PopValueInto("tag", &s); err != nil {
			return err
		}
		tag, err := ParseTagValue(s)
		if err != nil {
			return err
		}
		target.Set(reflect.ValueOf(tag))
		return nil
	}
}
