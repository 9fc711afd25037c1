package store

import (
	"fmt"

	"github.com/shelfdb/shelf/internal/format"
)

// IntType is the built-in 64-bit signed integer. By-value: its eight bytes
// live inline in the containing slot, and stand-alone creation is refused.
type IntType struct {
	name string
}

func (t *IntType) Name() string       { return t.name }
func (t *IntType) ByValue() bool      { return true }
func (t *IntType) assignSize() uint64 { return 8 }

func (t *IntType) assign(st *Storage, off uint64, src any) error {
	switch v := src.(type) {
	case int:
		return st.putI64(off, int64(v))
	case int64:
		return st.putI64(off, v)
	case *Int:
		if v.st != st || !isSubtype(v.typ, t) {
			return fmt.Errorf("%w: foreign integer proxy", ErrType)
		}
		return st.putI64(off, st.i64(v.off))
	default:
		return fmt.Errorf("%w: cannot assign %T to %s", ErrType, src, t.name)
	}
}

func (t *IntType) load(st *Storage, off uint64) (Value, error) {
	return &Int{&Proxy{st: st, typ: t, off: off}}, nil
}

func (t *IntType) descriptor() (format.Descriptor, bool) {
	return format.Descriptor{Tag: format.TagInt, Name: t.name}, !hiddenName(t.name)
}

// Int is the handle to a persistent integer slot.
type Int struct{ *Proxy }

// Get reads the value.
func (x *Int) Get() (int64, error) {
	if err := x.st.assertLive(); err != nil {
		return 0, err
	}
	return x.st.i64(x.off), nil
}

// Set overwrites the value in place.
func (x *Int) Set(v int64) (err error) {
	if err := x.st.assertLive(); err != nil {
		return err
	}
	x.st.beginUpdate()
	defer x.st.endUpdate(&err)
	return x.st.putI64(x.off, v)
}

// Add adds delta in place and returns the new value.
func (x *Int) Add(delta int64) (v int64, err error) {
	if err := x.st.assertLive(); err != nil {
		return 0, err
	}
	x.st.beginUpdate()
	defer x.st.endUpdate(&err)
	v = x.st.i64(x.off) + delta
	return v, x.st.putI64(x.off, v)
}

// Increment adds one in place.
func (x *Int) Increment() error {
	_, err := x.Add(1)
	return err
}

// SetBit sets bit i in place.
func (x *Int) SetBit(i uint) (err error) {
	if err := x.checkBit(i); err != nil {
		return err
	}
	x.st.beginUpdate()
	defer x.st.endUpdate(&err)
	return x.st.putU64(x.off, x.st.u64(x.off)|1<<i)
}

// ClearBit clears bit i in place.
func (x *Int) ClearBit(i uint) (err error) {
	if err := x.checkBit(i); err != nil {
		return err
	}
	x.st.beginUpdate()
	defer x.st.endUpdate(&err)
	return x.st.putU64(x.off, x.st.u64(x.off)&^(1<<i))
}

// TestBit reports bit i.
func (x *Int) TestBit(i uint) (bool, error) {
	if err := x.checkBit(i); err != nil {
		return false, err
	}
	return x.st.u64(x.off)&(1<<i) != 0, nil
}

func (x *Int) checkBit(i uint) error {
	if err := x.st.assertLive(); err != nil {
		return err
	}
	if i >= 64 {
		return fmt.Errorf("%w: bit index %d out of range", ErrValue, i)
	}
	return nil
}

// Cmp orders the value against another integer or float: a persistent scalar
// or a plain one.
func (x *Int) Cmp(other any) (int, error) {
	v, err := x.Get()
	if err != nil {
		return 0, err
	}
	k, err := normalizeKey(other)
	if err != nil {
		return 0, err
	}
	return compareKeys(v, k)
}

// Equal reports value equality. Values of non-numeric types compare unequal.
func (x *Int) Equal(other any) (bool, error) {
	v, err := x.Get()
	if err != nil {
		return false, err
	}
	k, err := normalizeKey(other)
	if err != nil {
		return false, nil
	}
	c, err := compareKeys(v, k)
	if err != nil {
		return false, nil
	}
	return c == 0, nil
}

// FloatType is the built-in 64-bit float. By-value, like IntType.
type FloatType struct {
	name string
}

func (t *FloatType) Name() string       { return t.name }
func (t *FloatType) ByValue() bool      { return true }
func (t *FloatType) assignSize() uint64 { return 8 }

func (t *FloatType) assign(st *Storage, off uint64, src any) error {
	switch v := src.(type) {
	case float64:
		return st.putF64(off, v)
	case int:
		return st.putF64(off, float64(v))
	case int64:
		return st.putF64(off, float64(v))
	case *Float:
		if v.st != st || !isSubtype(v.typ, t) {
			return fmt.Errorf("%w: foreign float proxy", ErrType)
		}
		return st.putF64(off, st.f64(v.off))
	default:
		return fmt.Errorf("%w: cannot assign %T to %s", ErrType, src, t.name)
	}
}

func (t *FloatType) load(st *Storage, off uint64) (Value, error) {
	return &Float{&Proxy{st: st, typ: t, off: off}}, nil
}

func (t *FloatType) descriptor() (format.Descriptor, bool) {
	return format.Descriptor{Tag: format.TagFloat, Name: t.name}, !hiddenName(t.name)
}

// Float is the handle to a persistent float slot.
type Float struct{ *Proxy }

// Get reads the value.
func (x *Float) Get() (float64, error) {
	if err := x.st.assertLive(); err != nil {
		return 0, err
	}
	return x.st.f64(x.off), nil
}

// Set overwrites the value in place.
func (x *Float) Set(v float64) (err error) {
	if err := x.st.assertLive(); err != nil {
		return err
	}
	x.st.beginUpdate()
	defer x.st.endUpdate(&err)
	return x.st.putF64(x.off, v)
}

// Add adds delta in place and returns the new value.
func (x *Float) Add(delta float64) (v float64, err error) {
	if err := x.st.assertLive(); err != nil {
		return 0, err
	}
	x.st.beginUpdate()
	defer x.st.endUpdate(&err)
	v = x.st.f64(x.off) + delta
	return v, x.st.putF64(x.off, v)
}

// Cmp orders the value against another float or integer.
func (x *Float) Cmp(other any) (int, error) {
	v, err := x.Get()
	if err != nil {
		return 0, err
	}
	k, err := normalizeKey(other)
	if err != nil {
		return 0, err
	}
	return compareKeys(v, k)
}

// Equal reports value equality. Values of non-numeric types compare unequal.
func (x *Float) Equal(other any) (bool, error) {
	v, err := x.Get()
	if err != nil {
		return false, err
	}
	k, err := normalizeKey(other)
	if err != nil {
		return false, nil
	}
	c, err := compareKeys(v, k)
	if err != nil {
		return false, nil
	}
	return c == 0, nil
}
