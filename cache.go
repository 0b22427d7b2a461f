package invoke

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultCacheSize = 1024
	maxKeyDepth      = 16
)

// cached keeps the target and arguments reachable so that addresses used in the key
// are not reused while the entry lives.
type cached struct {
	value Object
	pins  []any
}

// cache holds results of safe actions for the lifetime of one request.
type cache struct {
	entries *lru.Cache[string, cached]
}

func newCache(size int) *cache {
	if size <= 0 {
		size = defaultCacheSize
	}
	entries, err := lru.New[string, cached](size)
	if err != nil {
		return nil
	}
	return &cache{entries: entries}
}

func (cache *cache) get(key string) (Object, bool) {
	if cache == nil {
		return nil, false
	}
	entry, ok := cache.entries.Get(key)
	return entry.value, ok
}

func (cache *cache) put(key string, value Object, pins ...any) {
	if cache == nil {
		return
	}
	cache.entries.Add(key, cached{value: value, pins: pins})
}

// identified objects supply their own identity for cache keys.
type identified interface {
	Identity() string
}

// identity keys a target. Reference values are keyed by address, so two equal but
// distinct objects never share an entry.
func identity(value Object) (string, bool) {
	if value == nil {
		return "<nil>", true
	}
	if identified, ok := value.(identified); ok {
		return value.Type() + ":" + identified.Identity(), true
	}
	var builder strings.Builder
	builder.WriteString(value.Type())
	builder.WriteByte(':')
	if !writeKey(&builder, value.Value(), 0) {
		return "", false
	}
	return builder.String(), true
}

// cacheKey returns false when the target or an argument cannot be keyed faithfully,
// in which case the call is not cached.
func cacheKey(attempt *Attempt) (string, bool) {
	var builder strings.Builder
	builder.WriteString(attempt.Action.Identifier())
	builder.WriteByte('|')
	target, ok := identity(attempt.Target)
	if !ok {
		return "", false
	}
	builder.WriteString(target)
	for _, argument := range attempt.Arguments {
		builder.WriteByte('|')
		if !writeKey(&builder, Unwrap(argument), 0) {
			return "", false
		}
	}
	return builder.String(), true
}

func writeKey(builder *strings.Builder, raw any, depth int) bool {
	if raw == nil {
		builder.WriteString("<nil>")
		return true
	}
	if identified, ok := raw.(identified); ok {
		fmt.Fprintf(builder, "%T:%s", raw, identified.Identity())
		return true
	}
	return writeValue(builder, reflect.ValueOf(raw), depth)
}

// writeValue reads through reflection so unexported fields take part in the key.
func writeValue(builder *strings.Builder, value reflect.Value, depth int) bool {
	if depth > maxKeyDepth {
		return false
	}
	if !value.IsValid() {
		builder.WriteString("<nil>")
		return true
	}
	builder.WriteString(value.Type().String())
	switch value.Kind() {
	case reflect.Bool:
		builder.WriteString("(" + strconv.FormatBool(value.Bool()) + ")")
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		builder.WriteString("(" + strconv.FormatInt(value.Int(), 10) + ")")
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		builder.WriteString("(" + strconv.FormatUint(value.Uint(), 10) + ")")
	case reflect.Float32, reflect.Float64:
		builder.WriteString("(" + strconv.FormatFloat(value.Float(), 'g', -1, 64) + ")")
	case reflect.Complex64, reflect.Complex128:
		builder.WriteString("(" + strconv.FormatComplex(value.Complex(), 'g', -1, 128) + ")")
	case reflect.String:
		builder.WriteString(strconv.Quote(value.String()))
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		if value.IsNil() {
			builder.WriteString("(nil)")
			return true
		}
		builder.WriteString("@" + strconv.FormatUint(uint64(value.Pointer()), 16))
	case reflect.Interface:
		builder.WriteByte('(')
		if value.IsNil() {
			builder.WriteString("<nil>")
		} else if !writeValue(builder, value.Elem(), depth+1) {
			return false
		}
		builder.WriteByte(')')
	case reflect.Slice, reflect.Array:
		if value.Kind() == reflect.Slice && value.IsNil() {
			builder.WriteString("(nil)")
			return true
		}
		builder.WriteString("[" + strconv.Itoa(value.Len()) + "]{")
		for i := 0; i < value.Len(); i++ {
			if i > 0 {
				builder.WriteByte(',')
			}
			if !writeValue(builder, value.Index(i), depth+1) {
				return false
			}
		}
		builder.WriteByte('}')
	case reflect.Struct:
		builder.WriteByte('{')
		for i := 0; i < value.NumField(); i++ {
			if i > 0 {
				builder.WriteByte(',')
			}
			builder.WriteString(value.Type().Field(i).Name + ":")
			if !writeValue(builder, value.Field(i), depth+1) {
				return false
			}
		}
		builder.WriteByte('}')
	default:
		// funcs have no stable identity
		return false
	}
	return true
}
