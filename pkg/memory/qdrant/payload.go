package qdrant

import (
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/whisperengine/whisperengine/pkg/memory"
)

// mustValue wraps [qdrant.NewValue] for plain scalar and string-slice
// inputs, which cannot fail conversion.
func mustValue(v any) *qdrant.Value {
	val, err := qdrant.NewValue(v)
	if err != nil {
		val, _ = qdrant.NewValue(nil)
	}
	return val
}

// encodePayload converts a record into the Qdrant point payload. The
// timestamp is stored twice: RFC 3339 for round-tripping and unix seconds
// for the ordered scroll index.
func encodePayload(rec memory.Record) map[string]*qdrant.Value {
	p := map[string]*qdrant.Value{
		"user_id":        mustValue(rec.UserID),
		"role":           mustValue(string(rec.Role)),
		"content":        mustValue(rec.Content),
		"session_id":     mustValue(rec.SessionID),
		"channel_id":     mustValue(rec.ChannelID),
		"timestamp":      mustValue(rec.Timestamp.UTC().Format(time.RFC3339Nano)),
		"timestamp_unix": mustValue(rec.Timestamp.Unix()),
		"emotion_label":  mustValue(rec.EmotionLabel),
		"importance":     mustValue(rec.Importance),
	}

	if len(rec.Topics) > 0 {
		topics := make([]any, len(rec.Topics))
		for i, t := range rec.Topics {
			topics[i] = t
		}
		p["topics"] = mustValue(topics)
	}
	if len(rec.Metadata) > 0 {
		if v, err := qdrant.NewValue(rec.Metadata); err == nil {
			p["metadata"] = v
		}
	}
	return p
}

// decodePayload reconstructs a record from a point payload. Missing or
// malformed fields degrade to zero values; retrieval never fails on a
// payload shape mismatch.
func decodePayload(id string, p map[string]*qdrant.Value) memory.Record {
	rec := memory.Record{ID: id}
	if p == nil {
		return rec
	}

	rec.UserID = p["user_id"].GetStringValue()
	rec.Role = memory.Role(p["role"].GetStringValue())
	rec.Content = p["content"].GetStringValue()
	rec.SessionID = p["session_id"].GetStringValue()
	rec.ChannelID = p["channel_id"].GetStringValue()
	rec.EmotionLabel = p["emotion_label"].GetStringValue()
	rec.Importance = p["importance"].GetDoubleValue()

	if ts := p["timestamp"].GetStringValue(); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.Timestamp = t
		}
	}
	if rec.Timestamp.IsZero() {
		if unix := p["timestamp_unix"].GetIntegerValue(); unix != 0 {
			rec.Timestamp = time.Unix(unix, 0).UTC()
		}
	}

	if list := p["topics"].GetListValue(); list != nil {
		for _, v := range list.Values {
			if s := v.GetStringValue(); s != "" {
				rec.Topics = append(rec.Topics, s)
			}
		}
	}

	if structVal := p["metadata"].GetStructValue(); structVal != nil {
		rec.Metadata = make(map[string]any, len(structVal.Fields))
		for k, v := range structVal.Fields {
			rec.Metadata[k] = flattenValue(v)
		}
	}
	return rec
}

// flattenValue converts a Qdrant value back into a plain Go value.
func flattenValue(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		out := make([]any, 0, len(kind.ListValue.GetValues()))
		for _, item := range kind.ListValue.GetValues() {
			out = append(out, flattenValue(item))
		}
		return out
	case *qdrant.Value_StructValue:
		out := make(map[string]any, len(kind.StructValue.GetFields()))
		for k, item := range kind.StructValue.GetFields() {
			out[k] = flattenValue(item)
		}
		return out
	default:
		return nil
	}
}
