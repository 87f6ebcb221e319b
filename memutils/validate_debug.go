//go:build debug_mem_utils

package memutils

const (
	// Debug is true when memutils was built with the debug_mem_utils build tag
	Debug bool = true
)

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_mem_utils build tag is present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckPageAligned will verify that the numerical value passed in is a multiple of PageSize, and
// panics if it is not. This method no-ops unless the debug_mem_utils build tag is present.
func DebugCheckPageAligned[T Number](value T, name string) {
	err := CheckPageAligned[T](value, name)
	if err != nil {
		panic(err)
	}
}
