package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
)

type envelope map[string]any

// writeJSON helper takes the destination http.ResponseWriter, the HTTP status
// code to send, the data to encode to JSON, and a header map containing any
// additional HTTP headers we want to include in the response.
func writeJSON(w http.ResponseWriter, status int, data envelope, headers http.Header) error {
	js, err := json.MarshalIndent(data, "", "\t")
	if err != nil {
		return err
	}
	js = append(js, '\n')

	for key, value := range headers {
		w.Header()[key] = value
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(js)
	return err
}

const maxBodyBytes = 1 << 20

// readJSONObject decodes a single JSON object from the request body. The
// order has no fixed schema, so any object is accepted as is.
func readJSONObject(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)

	var dst map[string]any
	if err := dec.Decode(&dst); err != nil {
		var syntaxError *json.SyntaxError
		var typeError *json.UnmarshalTypeError
		var maxBytesError *http.MaxBytesError

		switch {
		case errors.As(err, &syntaxError):
			return nil, fmt.Errorf("body contains badly-formed JSON (at character %d)", syntaxError.Offset)
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, errors.New("body contains badly-formed JSON")
		case errors.As(err, &typeError):
			return nil, errors.New("body must be a JSON object")
		case errors.Is(err, io.EOF):
			return nil, errors.New("body must not be empty")
		case errors.As(err, &maxBytesError):
			return nil, fmt.Errorf("body must not be larger than %d bytes", maxBytesError.Limit)
		default:
			return nil, err
		}
	}
	if dst == nil {
		return nil, errors.New("body must be a JSON object")
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("body must only contain a single JSON object")
	}

	return normalizeNumbers(dst).(map[string]any), nil
}

// normalizeNumbers turns whole JSON numbers into int64 so binary codecs
// encode them as integers.
func normalizeNumbers(v any) any {
	switch v := v.(type) {
	case map[string]any:
		for k, e := range v {
			v[k] = normalizeNumbers(e)
		}
	case []any:
		for i, e := range v {
			v[i] = normalizeNumbers(e)
		}
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return int64(v)
		}
	}
	return v
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Idempotency-Key"))
}
