package lane

import (
	"reflect"
	"unsafe"
)

// Size returns the number of bytes Pack writes for a T.
func Size[T any]() int {
	var v T
	return int(unsafe.Sizeof(v))
}

// Pack copies the raw bytes of *v into dst, which must hold Size[T]() bytes.
//
// Pack is only valid for types whose bit pattern is self-contained: no
// pointers, slices, maps, strings, channels, funcs or interfaces. Packing any
// other type hides references from the garbage collector. Use BitCopyable to
// check a type once at setup.
func Pack[T any](dst []byte, v *T) {
	n := unsafe.Sizeof(*v)
	if n == 0 {
		return
	}
	copy(dst[:n], unsafe.Slice((*byte)(unsafe.Pointer(v)), n)) //nolint:gosec // pointer-free T
}

// Unpack rebuilds a T from bytes produced by Pack.
func Unpack[T any](src []byte) T {
	var v T
	n := unsafe.Sizeof(v)
	if n == 0 {
		return v
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&v)), n), src[:n]) //nolint:gosec // pointer-free T
	return v
}

// BitCopyable reports whether T may travel through Pack and Unpack.
func BitCopyable[T any]() bool {
	return bitCopyable(reflect.TypeOf((*T)(nil)).Elem())
}

func bitCopyable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		return t.Len() == 0 || bitCopyable(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if !bitCopyable(t.Field(i).Type) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
