package endpoint

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
)

// defaultFieldLimit is the byte limit applied to a field with no maxLength
// tag.
var defaultFieldLimit = 16 * 1024

// Unmarshal populates dst (a non-nil pointer to a struct) from the request.
//
// Supported struct tags:
//   - `body:""` reads the whole request body.
//   - `header:"Name"` reads a request header. Header names are canonicalized.
//   - `maxLength:"n"` limits the byte length of the value. Without the tag
//     a limit of 16KB applies; `maxLength:"0"` disables it.
//
// Fields may be string or []byte. A []string header field receives every
// value of a repeated header. Fields with no data are left unchanged.
//
// A body larger than an http.MaxBytesReader limit gives a 413; any other
// decoding failure of request data gives a 400.
func Unmarshal(r *http.Request, dst any) error {
	if r == nil {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: nil request"))
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must be a non-nil pointer"))
	}
	root := v.Elem()
	if root.Kind() != reflect.Struct {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must point to a struct"))
	}

	t := root.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		limit, err := fieldLengthLimit(sf)
		if err != nil {
			return err
		}
		var values [][]byte
		var source, name string
		if _, ok := sf.Tag.Lookup("body"); ok {
			source, name = "body", sf.Name
			b, err := readBody(r, limit)
			if err != nil {
				return err
			}
			if b != nil {
				values = [][]byte{b}
			}
		} else if tag, ok := sf.Tag.Lookup("header"); ok {
			source, name = "header", strings.TrimSpace(strings.Split(tag, ",")[0])
			if name == "" {
				name = sf.Name
			}
			for _, s := range r.Header[http.CanonicalHeaderKey(name)] {
				values = append(values, []byte(s))
			}
		} else {
			continue
		}
		if len(values) == 0 {
			continue
		}
		for _, val := range values {
			if limit > 0 && len(val) > limit {
				return Error(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q: value exceeds max length %d", source, name, limit))
			}
		}
		if err := setField(root.Field(i), values); err != nil {
			return Error(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: %s %q -> %s: %w", source, name, sf.Name, err))
		}
	}
	return nil
}

// readBody reads at most limit+1 bytes so that an oversized body is detected
// without buffering all of it. A limit of 0 means no limit.
func readBody(r *http.Request, limit int) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	var src io.Reader = r.Body
	if limit > 0 {
		src = io.LimitReader(r.Body, int64(limit)+1)
	}
	b, err := io.ReadAll(src)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, Error(http.StatusRequestEntityTooLarge, "", err)
		}
		return nil, Error(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: body: %w", err))
	}
	return b, nil
}

func fieldLengthLimit(sf reflect.StructField) (int, error) {
	val, has := sf.Tag.Lookup("maxLength")
	if !has {
		return defaultFieldLimit, nil
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, Error(http.StatusInternalServerError, "", fmt.Errorf("maxLength: invalid integer %q", val))
	}
	if n < 0 {
		return 0, Error(http.StatusInternalServerError, "", errors.New("maxLength: must be >= 0"))
	}
	return n, nil
}

func setField(v reflect.Value, values [][]byte) error {
	switch {
	case v.Kind() == reflect.String:
		v.SetString(string(values[0]))
	case v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8:
		v.SetBytes(append([]byte(nil), values[0]...))
	case v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.String:
		out := reflect.MakeSlice(v.Type(), len(values), len(values))
		for i, b := range values {
			out.Index(i).SetString(string(b))
		}
		v.Set(out)
	default:
		return fmt.Errorf("unsupported field type %s", v.Type())
	}
	return nil
}
