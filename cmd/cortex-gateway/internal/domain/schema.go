package domain

import (
	"encoding/json"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// FieldType 字段类型（封闭枚举）
type FieldType string

const (
	FieldTypeString   FieldType = "string"   // 短文本
	FieldTypeText     FieldType = "text"     // 长文本
	FieldTypeInt      FieldType = "int"      // 整数
	FieldTypeFloat    FieldType = "float"    // 浮点数
	FieldTypeBoolean  FieldType = "boolean"  // 布尔
	FieldTypeDate     FieldType = "date"     // 日期
	FieldTypeDateTime FieldType = "datetime" // 日期时间
	FieldTypeEnum     FieldType = "enum"     // 枚举
	FieldTypeArray    FieldType = "array"    // 数组（子集合）
	FieldTypeFile     FieldType = "file"     // 文件
	FieldTypeJSON     FieldType = "json"     // JSON对象
)

// StoreLocation 字段的落存储位置
type StoreLocation string

const (
	StoreRelational    StoreLocation = "relational"     // 关系表
	StoreVectorIndex   StoreLocation = "vector_index"   // 向量索引
	StoreVectorPayload StoreLocation = "vector_payload" // 向量payload
	StoreBlob          StoreLocation = "blob"           // 对象存储
)

// Capability 字段能力，供FieldsRequiring查询
type Capability string

const (
	CapabilityVectorize Capability = "vectorize"
	CapabilityBlob      Capability = "blob"
	CapabilityFilter    Capability = "filterable"
	CapabilityUnique    Capability = "unique"
)

// 分块默认值
const (
	DefaultChunkSize    = 1024
	DefaultChunkOverlap = 128
)

// identifierPattern 集合名与字段名的合法标识符
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// validFieldTypes 合法类型集合
var validFieldTypes = map[FieldType]bool{
	FieldTypeString: true, FieldTypeText: true, FieldTypeInt: true,
	FieldTypeFloat: true, FieldTypeBoolean: true, FieldTypeDate: true,
	FieldTypeDateTime: true, FieldTypeEnum: true, FieldTypeArray: true,
	FieldTypeFile: true, FieldTypeJSON: true,
}

var validStoreLocations = map[StoreLocation]bool{
	StoreRelational: true, StoreVectorIndex: true,
	StoreVectorPayload: true, StoreBlob: true,
}

// ExtractConfig 文件字段的内容提取配置
type ExtractConfig struct {
	ExtractText  bool `json:"extract_text" yaml:"extract_text"`
	OCRIfNeeded  bool `json:"ocr_if_needed" yaml:"ocr_if_needed"`
	ChunkSize    int  `json:"chunk_size,omitempty" yaml:"chunk_size,omitempty"`
	ChunkOverlap int  `json:"chunk_overlap,omitempty" yaml:"chunk_overlap,omitempty"`
}

// DefaultExtractConfig 提取配置默认值
func DefaultExtractConfig() *ExtractConfig {
	return &ExtractConfig{
		ExtractText:  true,
		OCRIfNeeded:  true,
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
	}
}

// FieldDefinition 集合字段定义
// name在集合内唯一，创建后不可改名、不可变更类型
type FieldDefinition struct {
	Name        string          `json:"name" yaml:"name"`
	Type        FieldType       `json:"type" yaml:"type"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool            `json:"required" yaml:"required"`
	Indexed     bool            `json:"indexed" yaml:"indexed"`
	Unique      bool            `json:"unique" yaml:"unique"`
	Filterable  bool            `json:"filterable" yaml:"filterable"`
	Vectorize   bool            `json:"vectorize" yaml:"vectorize"`
	Default     any             `json:"default,omitempty" yaml:"default,omitempty"`
	EnumValues  []string        `json:"values,omitempty" yaml:"values,omitempty"`
	StoreIn     []StoreLocation `json:"store_in,omitempty" yaml:"store_in,omitempty"`
	// Schema 数组字段的嵌套子schema，只允许一层
	Schema        []FieldDefinition `json:"schema,omitempty" yaml:"schema,omitempty"`
	ExtractConfig *ExtractConfig    `json:"extract_config,omitempty" yaml:"extract_config,omitempty"`
}

// StoredIn 判断字段是否落在某个存储
func (f *FieldDefinition) StoredIn(loc StoreLocation) bool {
	for _, s := range f.StoreIn {
		if s == loc {
			return true
		}
	}
	return false
}

// NeedsVector 字段是否需要向量化
func (f *FieldDefinition) NeedsVector() bool {
	return f.Vectorize || f.StoredIn(StoreVectorIndex)
}

// IsEnumValue 枚举字段的取值校验
func (f *FieldDefinition) IsEnumValue(v string) bool {
	for _, ev := range f.EnumValues {
		if ev == v {
			return true
		}
	}
	return false
}

// CollectionConfig 集合级配置
type CollectionConfig struct {
	EmbeddingProviderID string `json:"embedding_provider_id,omitempty" yaml:"embedding_provider_id,omitempty"`
	EmbeddingModel      string `json:"embedding_model,omitempty" yaml:"embedding_model,omitempty"`
	ChunkSize           int    `json:"chunk_size,omitempty" yaml:"chunk_size,omitempty"`
	ChunkOverlap        int    `json:"chunk_overlap,omitempty" yaml:"chunk_overlap,omitempty"`
}

// EffectiveChunkSize 集合默认分块大小
func (c *CollectionConfig) EffectiveChunkSize() int {
	if c.ChunkSize > 0 {
		return c.ChunkSize
	}
	return DefaultChunkSize
}

// EffectiveChunkOverlap 集合默认分块重叠
func (c *CollectionConfig) EffectiveChunkOverlap() int {
	if c.ChunkOverlap > 0 {
		return c.ChunkOverlap
	}
	return DefaultChunkOverlap
}

// CollectionSchema 集合schema（校验后的内存表示）
// name作为三个存储的命名空间：关系表、向量collection、对象桶
type CollectionSchema struct {
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Fields      []FieldDefinition `json:"fields" yaml:"fields"`
	Config      CollectionConfig  `json:"config" yaml:"config"`
}

// Field 按名称查找字段
func (s *CollectionSchema) Field(name string) (*FieldDefinition, bool) {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i], true
		}
	}
	return nil, false
}

// FieldsRequiring 返回具备指定能力的字段，供Router与Dispatcher使用
func (s *CollectionSchema) FieldsRequiring(cap Capability) []FieldDefinition {
	var out []FieldDefinition
	for _, f := range s.Fields {
		switch cap {
		case CapabilityVectorize:
			if f.NeedsVector() {
				out = append(out, f)
			}
		case CapabilityBlob:
			if f.StoredIn(StoreBlob) {
				out = append(out, f)
			}
		case CapabilityFilter:
			if f.Filterable {
				out = append(out, f)
			}
		case CapabilityUnique:
			if f.Unique {
				out = append(out, f)
			}
		}
	}
	return out
}

// RequiresVectors 集合是否需要向量存储
func (s *CollectionSchema) RequiresVectors() bool {
	return len(s.FieldsRequiring(CapabilityVectorize)) > 0
}

// RequiresBlobs 集合是否需要对象存储
func (s *CollectionSchema) RequiresBlobs() bool {
	return len(s.FieldsRequiring(CapabilityBlob)) > 0
}

// BucketName 集合的对象桶名称
func (s *CollectionSchema) BucketName() string {
	return "cortex-" + s.Name
}

// ParseSchema 解析schema草案（YAML或JSON字节流）并校验
func ParseSchema(content []byte) (*CollectionSchema, error) {
	var draft CollectionSchema
	if err := yaml.Unmarshal(content, &draft); err != nil {
		return nil, NewSchemaError(fmt.Sprintf("failed to parse schema draft: %v", err))
	}
	return ValidateSchema(&draft)
}

// ValidateSchema 校验并归一化schema草案，纯函数，不触碰任何存储
// 归一化：vectorize隐式追加vector_index、file隐式追加blob、
// 文件字段填充提取默认值、空store_in落到relational
func ValidateSchema(draft *CollectionSchema) (*CollectionSchema, error) {
	if draft == nil {
		return nil, NewSchemaError("schema draft is nil")
	}
	if !identifierPattern.MatchString(draft.Name) {
		return nil, NewSchemaError(fmt.Sprintf("collection name %q must match %s", draft.Name, identifierPattern.String()))
	}
	if len(draft.Fields) == 0 {
		return nil, NewSchemaError("schema must declare at least one field")
	}

	out := *draft
	out.Fields = make([]FieldDefinition, len(draft.Fields))
	seen := make(map[string]bool, len(draft.Fields))
	for i := range draft.Fields {
		f := draft.Fields[i]
		if seen[f.Name] {
			return nil, NewSchemaError(fmt.Sprintf("duplicate field name: %s", f.Name))
		}
		seen[f.Name] = true

		normalized, err := validateField(&f, true)
		if err != nil {
			return nil, err
		}
		out.Fields[i] = *normalized
	}
	return &out, nil
}

// validateField 单字段校验与归一化，数组嵌套只递归一层
func validateField(f *FieldDefinition, allowNested bool) (*FieldDefinition, error) {
	if !identifierPattern.MatchString(f.Name) {
		return nil, NewSchemaError(fmt.Sprintf("field name %q must match %s", f.Name, identifierPattern.String()))
	}
	if !validFieldTypes[f.Type] {
		return nil, NewSchemaError(fmt.Sprintf("field %s: unknown type %q", f.Name, f.Type))
	}
	for _, loc := range f.StoreIn {
		if !validStoreLocations[loc] {
			return nil, NewSchemaError(fmt.Sprintf("field %s: unknown store location %q", f.Name, loc))
		}
	}

	out := *f

	if f.Type == FieldTypeEnum && len(f.EnumValues) == 0 {
		return nil, NewSchemaError(fmt.Sprintf("enum field %s must declare at least one value", f.Name))
	}
	if f.Type != FieldTypeEnum && len(f.EnumValues) > 0 {
		return nil, NewSchemaError(fmt.Sprintf("field %s: values is only valid for enum fields", f.Name))
	}

	if f.Vectorize {
		switch f.Type {
		case FieldTypeString, FieldTypeText, FieldTypeFile:
		default:
			return nil, NewSchemaError(fmt.Sprintf("field %s: vectorize is only valid for string, text, or file fields", f.Name))
		}
	}

	if f.Unique {
		switch f.Type {
		case FieldTypeString, FieldTypeInt, FieldTypeFloat:
		default:
			return nil, NewSchemaError(fmt.Sprintf("field %s: unique is only supported for string, int, or float fields", f.Name))
		}
	}

	if f.Type == FieldTypeArray {
		if !allowNested {
			return nil, NewSchemaError(fmt.Sprintf("field %s: nested arrays are not supported", f.Name))
		}
		if len(f.Schema) == 0 {
			return nil, NewSchemaError(fmt.Sprintf("array field %s requires a non-empty nested schema", f.Name))
		}
		nestedSeen := make(map[string]bool, len(f.Schema))
		out.Schema = make([]FieldDefinition, len(f.Schema))
		for i := range f.Schema {
			nested := f.Schema[i]
			if nestedSeen[nested.Name] {
				return nil, NewSchemaError(fmt.Sprintf("array field %s: duplicate nested field name %s", f.Name, nested.Name))
			}
			nestedSeen[nested.Name] = true
			normalized, err := validateField(&nested, false)
			if err != nil {
				return nil, err
			}
			out.Schema[i] = *normalized
		}
	} else if len(f.Schema) > 0 {
		return nil, NewSchemaError(fmt.Sprintf("field %s: nested schema is only allowed for array fields", f.Name))
	}

	if f.Type != FieldTypeFile && f.ExtractConfig != nil {
		return nil, NewSchemaError(fmt.Sprintf("field %s: extract_config is only applicable to file fields", f.Name))
	}

	// store_in归一化
	if len(out.StoreIn) == 0 {
		out.StoreIn = []StoreLocation{StoreRelational}
	}
	if out.Vectorize && !out.StoredIn(StoreVectorIndex) {
		out.StoreIn = append(out.StoreIn, StoreVectorIndex)
	}
	if out.Type == FieldTypeFile {
		if !out.StoredIn(StoreBlob) {
			out.StoreIn = append(out.StoreIn, StoreBlob)
		}
		if out.ExtractConfig == nil {
			out.ExtractConfig = DefaultExtractConfig()
		} else {
			cfg := *out.ExtractConfig
			if cfg.ChunkSize <= 0 {
				cfg.ChunkSize = DefaultChunkSize
			}
			if cfg.ChunkOverlap < 0 {
				cfg.ChunkOverlap = DefaultChunkOverlap
			}
			out.ExtractConfig = &cfg
		}
	}

	return &out, nil
}

// ValidateExtension 校验schema扩展：只允许追加新字段
// 已有字段改名、改类型或任何重定义一律拒绝
func ValidateExtension(current *CollectionSchema, newFields []FieldDefinition) ([]FieldDefinition, error) {
	if len(newFields) == 0 {
		return nil, NewSchemaError("extension must declare at least one new field")
	}
	out := make([]FieldDefinition, 0, len(newFields))
	for i := range newFields {
		f := newFields[i]
		if _, exists := current.Field(f.Name); exists {
			return nil, NewSchemaError(fmt.Sprintf("field %s already exists: renaming or redefining fields is unsupported", f.Name))
		}
		if f.Required {
			return nil, NewSchemaError(fmt.Sprintf("field %s: new fields cannot be required, existing records would violate the constraint", f.Name))
		}
		normalized, err := validateField(&f, true)
		if err != nil {
			return nil, err
		}
		out = append(out, *normalized)
	}
	return out, nil
}

// MarshalSchema schema序列化为JSON（注册表存储格式）
func MarshalSchema(s *CollectionSchema) ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalSchema 从注册表JSON还原schema
func UnmarshalSchema(data []byte) (*CollectionSchema, error) {
	var s CollectionSchema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}
	return &s, nil
}
