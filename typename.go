package parking

import "reflect"

// TypeName returns the package-qualified name of v's dynamic type, with any
// pointer indirection stripped (for example "session.ExtendSession"). It keys
// command routing and labels telemetry; events are named by EventType instead.
func TypeName(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.String()
}
