package biz

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"cortex/cmd/cortex-gateway/internal/domain"
)

// RecordRouter 记录路由器
// 纯分解：校验负载、按store_in拆成待写集，不触碰任何存储
type RecordRouter struct{}

// NewRecordRouter 创建记录路由器
func NewRecordRouter() *RecordRouter {
	return &RecordRouter{}
}

// Route 把负载拆解为待写集
// 必填缺失、类型不符、枚举越界、未知字段都在这里拒绝
// 未提交的可选字段补默认值，否则落NULL
func (r *RecordRouter) Route(schema *domain.CollectionSchema, recordID string, payload map[string]any) (*domain.WriteSet, error) {
	return r.route(schema, recordID, payload, false)
}

// RoutePartial 把补丁负载拆解为待写集
// 只路由负载里出现的字段：不查必填、不补默认值、未提交字段绝不落NULL
// 显式null清空该字段的关系列，必填字段拒绝清空
func (r *RecordRouter) RoutePartial(schema *domain.CollectionSchema, recordID string, payload map[string]any) (*domain.WriteSet, error) {
	return r.route(schema, recordID, payload, true)
}

func (r *RecordRouter) route(schema *domain.CollectionSchema, recordID string, payload map[string]any, partial bool) (*domain.WriteSet, error) {
	// 1. 未知字段拒绝
	for name := range payload {
		if _, ok := schema.Field(name); !ok {
			return nil, domain.NewValidationError(name, "unknown field")
		}
	}

	ws := &domain.WriteSet{
		RecordID:    recordID,
		Schema:      schema,
		Row:         make(map[string]any),
		ChildRows:   make(map[string][]domain.ChildRow),
		PayloadBase: make(map[string]any),
	}

	// 2. 逐字段：必填检查、类型转换、按store_in分派
	for i := range schema.Fields {
		f := &schema.Fields[i]
		raw, present := payload[f.Name]

		if partial {
			if !present {
				continue
			}
			if raw == nil {
				if f.Required {
					return nil, domain.NewValidationError(f.Name, "required field cannot be cleared")
				}
				if f.StoredIn(domain.StoreRelational) && f.Type != domain.FieldTypeArray {
					ws.Row[f.Name] = nil
				}
				continue
			}
		} else {
			if !present || raw == nil {
				if f.Required {
					return nil, domain.NewValidationError(f.Name, "required field is missing")
				}
				if f.Default != nil {
					raw = f.Default
					present = true
				}
			}
			if !present || raw == nil {
				if f.StoredIn(domain.StoreRelational) && f.Type != domain.FieldTypeArray {
					ws.Row[f.Name] = nil
				}
				continue
			}
		}

		if err := r.routeField(ws, f, recordID, raw); err != nil {
			return nil, err
		}
	}

	return ws, nil
}

// routeField 单字段分派
func (r *RecordRouter) routeField(ws *domain.WriteSet, f *domain.FieldDefinition, recordID string, raw any) error {
	switch f.Type {
	case domain.FieldTypeFile:
		return r.routeFile(ws, f, recordID, raw)
	case domain.FieldTypeArray:
		return r.routeArray(ws, f, raw)
	}

	value, err := convertValue(f, raw)
	if err != nil {
		return err
	}

	if f.StoredIn(domain.StoreRelational) {
		ws.Row[f.Name] = value
	}
	if f.StoredIn(domain.StoreVectorPayload) || (f.Filterable && payloadFriendly(f.Type)) {
		ws.PayloadBase[f.Name] = payloadValue(value)
	}
	if f.NeedsVector() {
		text, ok := value.(string)
		if !ok {
			return domain.NewValidationError(f.Name, "vectorized value must be text")
		}
		if strings.TrimSpace(text) != "" {
			ws.Vectors = append(ws.Vectors, domain.PendingVector{
				Field:        f.Name,
				Text:         text,
				ChunkSize:    chunkSizeFor(f, ws.Schema),
				ChunkOverlap: chunkOverlapFor(f, ws.Schema),
			})
		}
	}
	return nil
}

// routeFile 文件字段：对象上传 + 关系行存对象键 + 可选向量化标记
func (r *RecordRouter) routeFile(ws *domain.WriteSet, f *domain.FieldDefinition, recordID string, raw any) error {
	file, ok := raw.(domain.FileInput)
	if !ok {
		if p, isPtr := raw.(*domain.FileInput); isPtr && p != nil {
			file = *p
		} else {
			return domain.NewValidationError(f.Name, "expected file upload")
		}
	}
	if len(file.Data) == 0 {
		return domain.NewValidationError(f.Name, "file content is empty")
	}

	name := file.FileName
	if name == "" {
		name = "upload"
	}
	objectKey := recordID + "/" + f.Name + "/" + name

	ws.Blobs = append(ws.Blobs, domain.BlobUpload{
		Field:       f.Name,
		ObjectKey:   objectKey,
		Data:        file.Data,
		ContentType: file.ContentType,
		FileName:    file.FileName,
	})

	if f.StoredIn(domain.StoreRelational) {
		ws.Row[f.Name] = objectKey
	}

	if f.NeedsVector() && f.ExtractConfig != nil && f.ExtractConfig.ExtractText {
		ws.Vectors = append(ws.Vectors, domain.PendingVector{
			Field:        f.Name,
			FileData:     file.Data,
			ContentType:  file.ContentType,
			ChunkSize:    chunkSizeFor(f, ws.Schema),
			ChunkOverlap: chunkOverlapFor(f, ws.Schema),
			OCRIfNeeded:  f.ExtractConfig.OCRIfNeeded,
		})
	}
	return nil
}

// routeArray 数组字段：逐项按子schema路由为子表行，嵌套只走一层
func (r *RecordRouter) routeArray(ws *domain.WriteSet, f *domain.FieldDefinition, raw any) error {
	items, ok := raw.([]any)
	if !ok {
		return domain.NewValidationError(f.Name, "expected an array value")
	}

	rows := make([]domain.ChildRow, 0, len(items))
	for idx, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return domain.NewValidationError(f.Name, fmt.Sprintf("item %d: expected an object", idx))
		}
		values := make(map[string]any, len(f.Schema))
		for i := range f.Schema {
			nested := &f.Schema[i]
			nraw, present := obj[nested.Name]
			if !present || nraw == nil {
				if nested.Required {
					return domain.NewValidationError(f.Name, fmt.Sprintf("item %d: required field %s is missing", idx, nested.Name))
				}
				values[nested.Name] = nil
				continue
			}
			value, err := convertValue(nested, nraw)
			if err != nil {
				return domain.NewValidationError(f.Name, fmt.Sprintf("item %d: %v", idx, err))
			}
			values[nested.Name] = value
		}
		for name := range obj {
			known := false
			for i := range f.Schema {
				if f.Schema[i].Name == name {
					known = true
					break
				}
			}
			if !known {
				return domain.NewValidationError(f.Name, fmt.Sprintf("item %d: unknown field %s", idx, name))
			}
		}
		rows = append(rows, domain.ChildRow{Index: idx, Values: values})
	}

	ws.ChildRows[f.Name] = rows
	return nil
}

// convertValue 按字段类型转换为原生值，转换失败以字段名报错
func convertValue(f *domain.FieldDefinition, raw any) (any, error) {
	switch f.Type {
	case domain.FieldTypeString, domain.FieldTypeText:
		s, ok := raw.(string)
		if !ok {
			return nil, domain.NewValidationError(f.Name, fmt.Sprintf("expected a string, got %T", raw))
		}
		return s, nil

	case domain.FieldTypeInt:
		return toInt64(f, raw)

	case domain.FieldTypeFloat:
		return toFloat64(f, raw)

	case domain.FieldTypeBoolean:
		return toBool(f, raw)

	case domain.FieldTypeDate:
		s, ok := raw.(string)
		if !ok {
			return nil, domain.NewValidationError(f.Name, "expected an ISO date string")
		}
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return nil, domain.NewValidationError(f.Name, fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", s))
		}
		return t, nil

	case domain.FieldTypeDateTime:
		s, ok := raw.(string)
		if !ok {
			return nil, domain.NewValidationError(f.Name, "expected an ISO datetime string")
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, domain.NewValidationError(f.Name, fmt.Sprintf("invalid datetime %q, expected RFC3339", s))
		}
		return t, nil

	case domain.FieldTypeEnum:
		s, ok := raw.(string)
		if !ok {
			return nil, domain.NewValidationError(f.Name, "expected a string enum value")
		}
		if !f.IsEnumValue(s) {
			return nil, domain.NewValidationError(f.Name, fmt.Sprintf("value %q is not one of %v", s, f.EnumValues))
		}
		return s, nil

	case domain.FieldTypeJSON:
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, domain.NewValidationError(f.Name, "value is not JSON-serializable")
		}
		return string(data), nil

	default:
		return nil, domain.NewValidationError(f.Name, fmt.Sprintf("type %s cannot be converted as a scalar", f.Type))
	}
}

func toInt64(f *domain.FieldDefinition, raw any) (int64, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, domain.NewValidationError(f.Name, fmt.Sprintf("expected an integer, got %v", v))
		}
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, domain.NewValidationError(f.Name, fmt.Sprintf("expected an integer, got %s", v))
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, domain.NewValidationError(f.Name, fmt.Sprintf("expected an integer, got %q", v))
		}
		return n, nil
	default:
		return 0, domain.NewValidationError(f.Name, fmt.Sprintf("expected an integer, got %T", raw))
	}
}

func toFloat64(f *domain.FieldDefinition, raw any) (float64, error) {
	switch v := raw.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return 0, domain.NewValidationError(f.Name, fmt.Sprintf("expected a number, got %s", v))
		}
		return n, nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, domain.NewValidationError(f.Name, fmt.Sprintf("expected a number, got %q", v))
		}
		return n, nil
	default:
		return 0, domain.NewValidationError(f.Name, fmt.Sprintf("expected a number, got %T", raw))
	}
}

// toBool 宽松布尔转换：true/1/yes与false/0/no都接受
func toBool(f *domain.FieldDefinition, raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return false, domain.NewValidationError(f.Name, fmt.Sprintf("expected a boolean, got %q", v))
	case float64:
		if v == 1 {
			return true, nil
		}
		if v == 0 {
			return false, nil
		}
		return false, domain.NewValidationError(f.Name, fmt.Sprintf("expected a boolean, got %v", v))
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	default:
		return false, domain.NewValidationError(f.Name, fmt.Sprintf("expected a boolean, got %T", raw))
	}
}

// payloadFriendly 字段类型是否适合进向量payload
// 长文本和JSON对象留在关系侧，payload只带可比较的标量
func payloadFriendly(t domain.FieldType) bool {
	switch t {
	case domain.FieldTypeString, domain.FieldTypeInt, domain.FieldTypeFloat,
		domain.FieldTypeBoolean, domain.FieldTypeDate, domain.FieldTypeDateTime,
		domain.FieldTypeEnum:
		return true
	default:
		return false
	}
}

// payloadValue 向量payload里的JSON友好表示
func payloadValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return v
	}
}

// chunkSizeFor 字段级分块大小，未设置时回落集合级
func chunkSizeFor(f *domain.FieldDefinition, schema *domain.CollectionSchema) int {
	if f.ExtractConfig != nil && f.ExtractConfig.ChunkSize > 0 {
		return f.ExtractConfig.ChunkSize
	}
	return schema.Config.EffectiveChunkSize()
}

// chunkOverlapFor 字段级分块重叠，未设置时回落集合级
func chunkOverlapFor(f *domain.FieldDefinition, schema *domain.CollectionSchema) int {
	if f.ExtractConfig != nil && f.ExtractConfig.ChunkOverlap > 0 {
		return f.ExtractConfig.ChunkOverlap
	}
	return schema.Config.EffectiveChunkOverlap()
}
