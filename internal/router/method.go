package router

import (
	"context"
	"fmt"
	"math"
	"reflect"

	"github.com/danmuck/wampd/internal/wamp"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// RegisterMethod registers the exported method named method of obj.
// Positional call arguments are converted to the parameter types; a leading
// context.Context parameter receives the invocation context. The method may
// return nothing, a value, an error, or a value and an error.
func (d *Dealer) RegisterMethod(procedure wamp.URI, obj interface{}, method string, opts wamp.RegisterOptions) (*Registration, error) {
	fn, err := MethodHandler(obj, method)
	if err != nil {
		return nil, err
	}
	return d.RegisterFunc(procedure, fn, opts)
}

// MethodHandler adapts a method of obj into a HandlerFunc.
func MethodHandler(obj interface{}, method string) (HandlerFunc, error) {
	m := reflect.ValueOf(obj).MethodByName(method)
	if !m.IsValid() {
		return nil, fmt.Errorf("%w: %T has no method %q", wamp.ErrInvalidArgument, obj, method)
	}
	mt := m.Type()
	if mt.IsVariadic() {
		return nil, fmt.Errorf("%w: %T.%s is variadic", wamp.ErrInvalidArgument, obj, method)
	}
	withCtx := mt.NumIn() > 0 && mt.In(0) == contextType
	first := 0
	if withCtx {
		first = 1
	}
	if err := checkResults(mt); err != nil {
		return nil, fmt.Errorf("%w: %T.%s: %v", wamp.ErrInvalidArgument, obj, method, err)
	}

	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		if len(inv.Args) != mt.NumIn()-first {
			return nil, wamp.NewApplicationError(wamp.ErrURIInvalidArgument,
				fmt.Sprintf("%s takes %d arguments, got %d", inv.Procedure, mt.NumIn()-first, len(inv.Args)))
		}
		in := make([]reflect.Value, 0, mt.NumIn())
		if withCtx {
			in = append(in, reflect.ValueOf(ctx))
		}
		for i, arg := range inv.Args {
			v, err := convertArg(arg, mt.In(first+i))
			if err != nil {
				return nil, wamp.NewApplicationError(wamp.ErrURIInvalidArgument,
					fmt.Sprintf("%s argument %d: %v", inv.Procedure, i, err))
			}
			in = append(in, v)
		}
		return methodResult(m.Call(in))
	}, nil
}

func checkResults(mt reflect.Type) error {
	switch mt.NumOut() {
	case 0, 1:
		return nil
	case 2:
		if mt.Out(1) != errorType {
			return fmt.Errorf("second result must be error")
		}
		return nil
	}
	return fmt.Errorf("at most two results")
}

func convertArg(arg interface{}, t reflect.Type) (reflect.Value, error) {
	if arg == nil {
		switch t.Kind() {
		case reflect.Interface, reflect.Map, reflect.Slice, reflect.Pointer:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("nil for %s", t)
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(t) {
		return v, nil
	}
	if isNumber(v.Kind()) && isNumber(t.Kind()) {
		return convertNumber(v, t)
	}
	if v.Kind() == t.Kind() && v.Type().ConvertibleTo(t) {
		return v.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", arg, t)
}

// convertNumber converts between numeric kinds only when the value
// survives unchanged: no fractions into integers, no overflow.
func convertNumber(v reflect.Value, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	switch {
	case isInt(t.Kind()):
		var n int64
		switch {
		case isInt(v.Kind()):
			n = v.Int()
		case isUint(v.Kind()):
			if v.Uint() > math.MaxInt64 {
				return reflect.Value{}, fmt.Errorf("%d overflows %s", v.Uint(), t)
			}
			n = int64(v.Uint())
		default:
			f := v.Float()
			if f != math.Trunc(f) {
				return reflect.Value{}, fmt.Errorf("%v is not an integer", f)
			}
			if f < math.MinInt64 || f >= 1<<63 {
				return reflect.Value{}, fmt.Errorf("%v overflows %s", f, t)
			}
			n = int64(f)
		}
		if out.OverflowInt(n) {
			return reflect.Value{}, fmt.Errorf("%d overflows %s", n, t)
		}
		out.SetInt(n)
	case isUint(t.Kind()):
		var n uint64
		switch {
		case isInt(v.Kind()):
			if v.Int() < 0 {
				return reflect.Value{}, fmt.Errorf("%d overflows %s", v.Int(), t)
			}
			n = uint64(v.Int())
		case isUint(v.Kind()):
			n = v.Uint()
		default:
			f := v.Float()
			if f != math.Trunc(f) {
				return reflect.Value{}, fmt.Errorf("%v is not an integer", f)
			}
			if f < 0 || f >= 1<<64 {
				return reflect.Value{}, fmt.Errorf("%v overflows %s", f, t)
			}
			n = uint64(f)
		}
		if out.OverflowUint(n) {
			return reflect.Value{}, fmt.Errorf("%d overflows %s", n, t)
		}
		out.SetUint(n)
	default:
		var f float64
		switch {
		case isInt(v.Kind()):
			f = float64(v.Int())
		case isUint(v.Kind()):
			f = float64(v.Uint())
		default:
			f = v.Float()
		}
		if out.OverflowFloat(f) {
			return reflect.Value{}, fmt.Errorf("%v overflows %s", f, t)
		}
		out.SetFloat(f)
	}
	return out, nil
}

func isInt(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUint(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func isNumber(k reflect.Kind) bool {
	return isInt(k) || isUint(k) || k == reflect.Float32 || k == reflect.Float64
}

func methodResult(out []reflect.Value) (*Result, error) {
	if n := len(out); n > 0 && out[n-1].Type() == errorType {
		if !out[n-1].IsNil() {
			return nil, out[n-1].Interface().(error)
		}
		out = out[:n-1]
	}
	if len(out) == 0 {
		return &Result{}, nil
	}
	return &Result{Args: wamp.List{out[0].Interface()}}, nil
}
