// Package bstruct converts between structs of fixed size integer
// fields and their binary encoding, such as the range headers found
// in memory images.
//
// Fields are encoded in declaration order with no padding. Supported
// field types are uint8, uint16, uint32, uint64 and, when encoding,
// types that implement Byter. Fields must be exported.
package bstruct

import (
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
)

// Byter encodes itself. It allows a struct field of a custom
// type to be encoded by StructToBytes.
type Byter interface {
	ToBytes(binary.ByteOrder) []byte
}

// FieldInfo describes a struct field as it is encoded or decoded.
type FieldInfo struct {
	Index int
	Name  string
	Type  string
	Value []byte
}

// StructToBytesOrExit calls StructToBytes. DefaultExitFn is invoked
// if an error occurs.
func StructToBytesOrExit(s interface{}, bo binary.ByteOrder, optFn func(FieldInfo) error) []byte {
	b, err := StructToBytes(s, bo, optFn)
	if err != nil {
		DefaultExitFn(fmt.Errorf("failed to encode struct - %w", err))
	}

	return b
}

// StructToBytes encodes the fields of s, which must be a struct or
// a pointer to one. optFn, when non-nil, is called with each encoded
// field.
func StructToBytes(s interface{}, bo binary.ByteOrder, optFn func(FieldInfo) error) ([]byte, error) {
	structValue, err := structOf(s)
	if err != nil {
		return nil, err
	}

	structType := structValue.Type()

	var b []byte

	for i := 0; i < structValue.NumField(); i++ {
		field := structType.Field(i)
		if !field.IsExported() {
			return nil, fmt.Errorf("field %q (index %d) is not exported", field.Name, i)
		}

		at := len(b)

		switch t := structValue.Field(i).Interface().(type) {
		case Byter:
			b = append(b, t.ToBytes(bo)...)
		case uint8:
			b = append(b, t)
		case uint16:
			b = append(b, make([]byte, 2)...)
			bo.PutUint16(b[len(b)-2:], t)
		case uint32:
			b = append(b, make([]byte, 4)...)
			bo.PutUint32(b[len(b)-4:], t)
		case uint64:
			b = append(b, make([]byte, 8)...)
			bo.PutUint64(b[len(b)-8:], t)
		default:
			return nil, fmt.Errorf("unsupported data type %T for field %q (index %d)",
				t, field.Name, i)
		}

		if optFn != nil {
			err := optFn(FieldInfo{
				Index: i,
				Name:  field.Name,
				Type:  field.Type.String(),
				Value: b[at:],
			})
			if err != nil {
				return nil, err
			}
		}
	}

	return b, nil
}

// BytesToStruct decodes b into the struct pointed to by ptr. b must
// be at least Size(ptr) bytes long. Trailing bytes are ignored.
func BytesToStruct(b []byte, bo binary.ByteOrder, ptr interface{}) error {
	if ptr == nil {
		return errors.New("struct pointer is nil")
	}

	ptrValue := reflect.ValueOf(ptr)
	if ptrValue.Kind() != reflect.Pointer || ptrValue.IsNil() {
		return fmt.Errorf("expected a non-nil struct pointer - got %T", ptr)
	}

	structValue := ptrValue.Elem()
	if structValue.Kind() != reflect.Struct {
		return fmt.Errorf("expected a struct pointer - got %T", ptr)
	}

	size, err := Size(ptr)
	if err != nil {
		return err
	}

	if len(b) < size {
		return fmt.Errorf("need %d bytes to decode %s - got %d",
			size, structValue.Type(), len(b))
	}

	structType := structValue.Type()
	pos := 0

	for i := 0; i < structValue.NumField(); i++ {
		field := structValue.Field(i)

		switch field.Kind() {
		case reflect.Uint8:
			field.SetUint(uint64(b[pos]))
			pos++
		case reflect.Uint16:
			field.SetUint(uint64(bo.Uint16(b[pos:])))
			pos += 2
		case reflect.Uint32:
			field.SetUint(uint64(bo.Uint32(b[pos:])))
			pos += 4
		case reflect.Uint64:
			field.SetUint(bo.Uint64(b[pos:]))
			pos += 8
		default:
			return fmt.Errorf("unsupported data type %s for field %q (index %d)",
				field.Type(), structType.Field(i).Name, i)
		}
	}

	return nil
}

// Size returns the encoded size of s, which must be a struct or
// a pointer to one, containing only unsigned integer fields.
func Size(s interface{}) (int, error) {
	structValue, err := structOf(s)
	if err != nil {
		return 0, err
	}

	structType := structValue.Type()
	size := 0

	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		if !field.IsExported() {
			return 0, fmt.Errorf("field %q (index %d) is not exported", field.Name, i)
		}

		switch field.Type.Kind() {
		case reflect.Uint8:
			size++
		case reflect.Uint16:
			size += 2
		case reflect.Uint32:
			size += 4
		case reflect.Uint64:
			size += 8
		default:
			return 0, fmt.Errorf("unsupported data type %s for field %q (index %d)",
				field.Type, field.Name, i)
		}
	}

	return size, nil
}

func structOf(s interface{}) (reflect.Value, error) {
	if s == nil {
		return reflect.Value{}, errors.New("struct is nil")
	}

	v := reflect.ValueOf(s)
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}, errors.New("struct pointer is nil")
		}

		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("expected a struct - got %T", s)
	}

	return v, nil
}
