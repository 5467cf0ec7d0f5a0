package test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
)

// AssertDeepCopy fails t unless cp holds the same values as orig without sharing any pointer or slice backing array
// with it. Only exported struct fields and byte slices are walked, which covers udp.Addr and the tester packets.
func AssertDeepCopy(t *testing.T, orig, cp any) {
	t.Helper()
	a, b := reflect.ValueOf(orig), reflect.ValueOf(cp)
	if !assert.Equal(t, a.Type(), b.Type()) {
		return
	}
	assertDisjoint(t, a, b, a.Type().String())
}

func assertDisjoint(t *testing.T, a, b reflect.Value, path string) {
	t.Helper()
	switch a.Kind() {
	case reflect.Ptr:
		if a.IsNil() || b.IsNil() {
			assert.Equal(t, a.IsNil(), b.IsNil(), "%s: only one side is nil", path)
			return
		}
		assert.NotEqual(t, a.Pointer(), b.Pointer(), "%s: pointers are shared", path)
		assertDisjoint(t, a.Elem(), b.Elem(), path)

	case reflect.Slice:
		if a.IsNil() || b.IsNil() {
			assert.Equal(t, a.IsNil(), b.IsNil(), "%s: only one side is nil", path)
			return
		}
		assert.Equal(t, a.Bytes(), b.Bytes(), "%s: contents differ", path)
		if a.Cap() > 0 && b.Cap() > 0 {
			// Comparing the last element of each backing array catches overlapping sub slices too
			endA := a.Slice3(0, a.Cap(), a.Cap()).Index(a.Cap() - 1).Addr().Pointer()
			endB := b.Slice3(0, b.Cap(), b.Cap()).Index(b.Cap() - 1).Addr().Pointer()
			assert.NotEqual(t, endA, endB, "%s: backing arrays are shared", path)
		}

	case reflect.Struct:
		for i := 0; i < a.NumField(); i++ {
			f := a.Type().Field(i)
			if f.IsExported() {
				assertDisjoint(t, a.Field(i), b.Field(i), path+"."+f.Name)
			}
		}

	default:
		assert.Equal(t, a.Interface(), b.Interface(), "%s: values differ", path)
	}
}
