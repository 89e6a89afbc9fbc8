package qdrant

import (
	"fmt"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

func toPointStruct(p *Point) *qdrant.PointStruct {
	payload := make(map[string]*qdrant.Value, len(p.Payload))
	for k, v := range p.Payload {
		payload[k] = toValue(v)
	}
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(p.ID),
		Vectors: qdrant.NewVectors(p.Vector...),
		Payload: payload,
	}
}

// toValue maps payload scalars. Anything else is stored as its %v string.
func toValue(v any) *qdrant.Value {
	switch x := v.(type) {
	case nil:
		return qdrant.NewValueNull()
	case string:
		return qdrant.NewValueString(x)
	case bool:
		return qdrant.NewValueBool(x)
	case int:
		return qdrant.NewValueInt(int64(x))
	case int32:
		return qdrant.NewValueInt(int64(x))
	case int64:
		return qdrant.NewValueInt(x)
	case float32:
		return qdrant.NewValueDouble(float64(x))
	case float64:
		return qdrant.NewValueDouble(x)
	}
	return qdrant.NewValueString(fmt.Sprint(v))
}

func toFilter(f *Filter) *qdrant.Filter {
	if f == nil || len(f.Must) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(f.Must))
	for _, cond := range f.Must {
		must = append(must, qdrant.NewMatchKeyword(cond.Field, cond.Keyword))
	}
	return &qdrant.Filter{Must: must}
}

func fromScoredPoint(p *qdrant.ScoredPoint) *ScoredPoint {
	sp := &ScoredPoint{Score: p.GetScore()}
	sp.ID = pointID(p.GetId())
	sp.Payload = fromPayload(p.GetPayload())
	if dense := p.GetVectors().GetVector().GetDense(); dense != nil {
		sp.Vector = dense.GetData()
	}
	return sp
}

func pointID(id *qdrant.PointId) string {
	switch {
	case id == nil:
		return ""
	case id.GetUuid() != "":
		return id.GetUuid()
	case id.GetNum() != 0:
		return strconv.FormatUint(id.GetNum(), 10)
	}
	return ""
}

func fromPayload(payload map[string]*qdrant.Value) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = fromValue(v)
	}
	return out
}

// fromValue returns nil for null, list and struct values.
func fromValue(v *qdrant.Value) any {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	}
	return nil
}
