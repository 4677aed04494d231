package bencode

import (
	"bytes"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
)

// Encoder writes bencoded values to an underlying io.Writer. Map and struct
// keys are written in ascending lexicographic order; a *Dict is written in
// its stored key order, so a Dict decoded from input reproduces that input.
type Encoder struct {
	w io.Writer
}

// NewEncoder returns a new Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes the bencoded form of v.
func (e *Encoder) Encode(v interface{}) error {
	return encodeValue(e.w, reflect.ValueOf(v))
}

func encodeValue(w io.Writer, rv reflect.Value) error {
	if rv.IsValid() && rv.CanInterface() {
		if dict, ok := rv.Interface().(*Dict); ok {
			return encodeDict(w, dict)
		}
	}
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.Kind() == reflect.Ptr && rv.IsNil() {
			return fmt.Errorf("bencode: cannot encode nil pointer")
		}
		rv = rv.Elem()
	}
	if rv.Type() == rawMessageType {
		raw := rv.Bytes()
		if len(raw) == 0 {
			return fmt.Errorf("bencode: cannot encode empty RawMessage")
		}
		_, err := w.Write(raw)
		return err
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return encodeInt(w, rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return encodeInt(w, int64(rv.Uint()))
	case reflect.Bool:
		n := int64(0)
		if rv.Bool() {
			n = 1
		}
		return encodeInt(w, n)
	case reflect.String:
		return encodeString(w, []byte(rv.String()))
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return encodeString(w, rv.Bytes())
		}
		if _, err := io.WriteString(w, "l"); err != nil {
			return err
		}
		for i := 0; i < rv.Len(); i++ {
			if err := encodeValue(w, rv.Index(i)); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "e")
		return err
	case reflect.Map:
		return encodeMap(w, rv)
	case reflect.Struct:
		return encodeStruct(w, rv)
	default:
		return fmt.Errorf("bencode: unsupported type %s", rv.Type())
	}
}

func encodeInt(w io.Writer, n int64) error {
	_, err := io.WriteString(w, "i"+strconv.FormatInt(n, 10)+"e")
	return err
}

func encodeString(w io.Writer, b []byte) error {
	if _, err := io.WriteString(w, strconv.Itoa(len(b))+":"); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// encodeDict writes d in its existing key order. This preserves
// encode(decode(b)) == b even for dictionaries decoded leniently from
// non-ascending input, since Dict retains the order keys were first seen
// rather than re-sorting them.
func encodeDict(w io.Writer, d *Dict) error {
	if _, err := io.WriteString(w, "d"); err != nil {
		return err
	}
	for _, k := range d.Keys() {
		if err := encodeString(w, []byte(k)); err != nil {
			return err
		}
		v, _ := d.Get(k)
		if err := encodeValue(w, reflect.ValueOf(v)); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "e")
	return err
}

func encodeMap(w io.Writer, rv reflect.Value) error {
	if rv.Type().Key().Kind() != reflect.String {
		return fmt.Errorf("bencode: map key must be string, got %s", rv.Type().Key())
	}
	keys := rv.MapKeys()
	strKeys := make([]string, len(keys))
	byKey := make(map[string]reflect.Value, len(keys))
	for i, k := range keys {
		s := k.String()
		strKeys[i] = s
		byKey[s] = rv.MapIndex(k)
	}
	sort.Strings(strKeys)
	if _, err := io.WriteString(w, "d"); err != nil {
		return err
	}
	for _, k := range strKeys {
		if err := encodeString(w, []byte(k)); err != nil {
			return err
		}
		if err := encodeValue(w, byKey[k]); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "e")
	return err
}

type structField struct {
	key   string
	value reflect.Value
}

func encodeStruct(w io.Writer, rv reflect.Value) error {
	t := rv.Type()
	var fields []structField
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.PkgPath != "" {
			continue
		}
		name, omitempty, skip := parseTag(sf)
		if skip {
			continue
		}
		fv := rv.Field(i)
		if omitempty && isEmptyValue(fv) {
			continue
		}
		fields = append(fields, structField{key: name, value: fv})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].key < fields[j].key })
	if _, err := io.WriteString(w, "d"); err != nil {
		return err
	}
	for _, f := range fields {
		if f.value.Type() == rawMessageType && f.value.Len() == 0 {
			continue // omit unset RawMessage fields even without omitempty
		}
		if err := encodeString(w, []byte(f.key)); err != nil {
			return err
		}
		if err := encodeValue(w, f.value); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "e")
	return err
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.String:
		return v.Len() == 0
	case reflect.Slice, reflect.Map, reflect.Array:
		return v.Len() == 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Ptr, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// EncodeBytes returns the bencoded form of v.
func EncodeBytes(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
