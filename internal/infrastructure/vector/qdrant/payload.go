package qdrant

import (
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
)

func toPayload(in map[string]any) map[string]*pb.Value {
	out := make(map[string]*pb.Value, len(in))
	for k, v := range in {
		if val := toValue(v); val != nil {
			out[k] = val
		}
	}
	return out
}

func toValue(v any) *pb.Value {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: t}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: t}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(t)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: t}}
	case int32:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(t)}}
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: t}}
	case float32:
		return toValue(float64(t))
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(t)}}
	}
}

func fromPayload(in map[string]*pb.Value) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if val, ok := fromValue(v); ok {
			out[k] = val
		}
	}
	return out
}

func fromValue(v *pb.Value) (any, bool) {
	if v == nil {
		return nil, false
	}
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue, true
	case *pb.Value_IntegerValue:
		return k.IntegerValue, true
	case *pb.Value_DoubleValue:
		return k.DoubleValue, true
	case *pb.Value_BoolValue:
		return k.BoolValue, true
	case *pb.Value_ListValue:
		items := make([]any, 0, len(k.ListValue.GetValues()))
		for _, item := range k.ListValue.GetValues() {
			if val, ok := fromValue(item); ok {
				items = append(items, val)
			}
		}
		return items, true
	case *pb.Value_StructValue:
		return fromPayload(k.StructValue.GetFields()), true
	default:
		return nil, false
	}
}

// parsePointID maps numeric strings to num ids and everything else to a
// uuid; non-uuid strings are hashed into a stable uuid.
func parsePointID(id string) *pb.PointId {
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		return &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: n}}
	}
	if _, err := uuid.Parse(id); err == nil {
		return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
	}
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String()}}
}

func pointIDString(id *pb.PointId) string {
	if id == nil {
		return ""
	}
	switch v := id.GetPointIdOptions().(type) {
	case *pb.PointId_Num:
		return strconv.FormatUint(v.Num, 10)
	case *pb.PointId_Uuid:
		return v.Uuid
	default:
		return ""
	}
}
