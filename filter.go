package invoke

import (
	"context"
	"reflect"

	"github.com/stateforward/go-invoke/embedded"
)

// Filter removes results the requesting principal may not see.
type Filter struct {
	Enabled    bool
	Visibility embedded.Visibility
	Adapter    embedded.Adapter
}

// Apply filters value. Slices and arrays are copied into a new value of the same
// shape holding only visible elements; any other shape is checked as a single value and
// replaced by nil when invisible. Values of unknown shape pass through.
func (filter Filter) Apply(ctx context.Context, value Object) Object {
	if !filter.Enabled || filter.Visibility == nil || value == nil {
		return value
	}
	adapter := filter.Adapter
	if adapter == nil {
		adapter = DefaultAdapter
	}
	raw := reflect.ValueOf(value.Value())
	switch raw.Kind() {
	case reflect.Slice:
		if raw.IsNil() {
			return value
		}
		filtered := reflect.MakeSlice(raw.Type(), 0, raw.Len())
		for i := 0; i < raw.Len(); i++ {
			if filter.visible(ctx, adapter, raw.Index(i)) {
				filtered = reflect.Append(filtered, raw.Index(i))
			}
		}
		return adapter.Adapt(filtered.Interface())
	case reflect.Array:
		visible := []reflect.Value{}
		for i := 0; i < raw.Len(); i++ {
			if filter.visible(ctx, adapter, raw.Index(i)) {
				visible = append(visible, raw.Index(i))
			}
		}
		filtered := reflect.New(reflect.ArrayOf(len(visible), raw.Type().Elem())).Elem()
		for i, element := range visible {
			filtered.Index(i).Set(element)
		}
		return adapter.Adapt(filtered.Interface())
	case reflect.Map, reflect.Chan, reflect.Func:
		return value
	}
	if !filter.Visibility.Visible(ctx, value) {
		return nil
	}
	return value
}

func (filter Filter) visible(ctx context.Context, adapter embedded.Adapter, element reflect.Value) bool {
	if !element.CanInterface() {
		return true
	}
	managed := adapter.Adapt(element.Interface())
	if managed == nil {
		return true
	}
	return filter.Visibility.Visible(ctx, managed)
}
