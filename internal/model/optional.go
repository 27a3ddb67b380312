package model

// Optional は部分更新における「未指定」と「null指定」を区別する値。
// Setがfalseの場合、そのフィールドは更新対象にならない。
// Setがtrueかつ Value がnilの場合はnullを書き込む。
type Optional[T any] struct {
	Set   bool
	Value *T
}

// Some は値を指定したOptionalを返す。
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: &v}
}

// Null はnullを指定したOptionalを返す。
func Null[T any]() Optional[T] {
	return Optional[T]{Set: true}
}

// Ptr はポインタ値をそのまま指定したOptionalを返す。nilはnull指定となる。
func Ptr[T any](v *T) Optional[T] {
	return Optional[T]{Set: true, Value: v}
}
