package broker

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	ContentTypeJSON    = "application/json"
	ContentTypeMsgpack = "application/msgpack"
)

// Codec turns payloads into message bodies and back.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonCodec struct{}

func (jsonCodec) ContentType() string                { return ContentTypeJSON }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type msgpackCodec struct{}

func (msgpackCodec) ContentType() string { return ContentTypeMsgpack }

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

// JSON is the default codec.
var JSON Codec = jsonCodec{}

// Msgpack encodes with MessagePack. Struct fields use their msgpack tags.
var Msgpack Codec = msgpackCodec{}

// CodecFor picks the codec for a delivery's content type. Messages without
// a content type are treated as JSON.
func CodecFor(contentType string) (Codec, error) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}

	switch ct {
	case "", ContentTypeJSON, "text/json":
		return JSON, nil
	case ContentTypeMsgpack, "application/x-msgpack":
		return Msgpack, nil
	default:
		return nil, &SerializationError{
			ContentType: contentType,
			Err:         fmt.Errorf("unsupported content type"),
		}
	}
}
