package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSchema_Normalization(t *testing.T) {
	draft := &CollectionSchema{
		Name: "articles",
		Fields: []FieldDefinition{
			{Name: "title", Type: FieldTypeString, Required: true, Vectorize: true},
			{Name: "status", Type: FieldTypeEnum, EnumValues: []string{"draft", "published"}, Filterable: true},
			{Name: "attachment", Type: FieldTypeFile},
		},
	}

	schema, err := ValidateSchema(draft)
	require.NoError(t, err)

	title, ok := schema.Field("title")
	require.True(t, ok)
	assert.True(t, title.StoredIn(StoreRelational), "empty store_in should default to relational")
	assert.True(t, title.StoredIn(StoreVectorIndex), "vectorize should imply vector_index")

	attachment, ok := schema.Field("attachment")
	require.True(t, ok)
	assert.True(t, attachment.StoredIn(StoreBlob), "file fields should imply blob storage")
	require.NotNil(t, attachment.ExtractConfig)
	assert.Equal(t, DefaultChunkSize, attachment.ExtractConfig.ChunkSize)
	assert.Equal(t, DefaultChunkOverlap, attachment.ExtractConfig.ChunkOverlap)

	assert.True(t, schema.RequiresVectors())
	assert.True(t, schema.RequiresBlobs())
	assert.Equal(t, "cortex-articles", schema.BucketName())
}

func TestValidateSchema_Rejections(t *testing.T) {
	testCases := []struct {
		name  string
		draft *CollectionSchema
	}{
		{
			name:  "非法集合名",
			draft: &CollectionSchema{Name: "my-articles", Fields: []FieldDefinition{{Name: "a", Type: FieldTypeString}}},
		},
		{
			name:  "无字段",
			draft: &CollectionSchema{Name: "articles"},
		},
		{
			name: "重复字段名",
			draft: &CollectionSchema{Name: "articles", Fields: []FieldDefinition{
				{Name: "a", Type: FieldTypeString},
				{Name: "a", Type: FieldTypeInt},
			}},
		},
		{
			name: "未知类型",
			draft: &CollectionSchema{Name: "articles", Fields: []FieldDefinition{
				{Name: "a", Type: "decimal"},
			}},
		},
		{
			name: "枚举无取值",
			draft: &CollectionSchema{Name: "articles", Fields: []FieldDefinition{
				{Name: "status", Type: FieldTypeEnum},
			}},
		},
		{
			name: "非枚举带取值",
			draft: &CollectionSchema{Name: "articles", Fields: []FieldDefinition{
				{Name: "a", Type: FieldTypeString, EnumValues: []string{"x"}},
			}},
		},
		{
			name: "整数字段vectorize",
			draft: &CollectionSchema{Name: "articles", Fields: []FieldDefinition{
				{Name: "count", Type: FieldTypeInt, Vectorize: true},
			}},
		},
		{
			name: "布尔字段unique",
			draft: &CollectionSchema{Name: "articles", Fields: []FieldDefinition{
				{Name: "flag", Type: FieldTypeBoolean, Unique: true},
			}},
		},
		{
			name: "数组缺嵌套schema",
			draft: &CollectionSchema{Name: "articles", Fields: []FieldDefinition{
				{Name: "tags", Type: FieldTypeArray},
			}},
		},
		{
			name: "数组嵌套数组",
			draft: &CollectionSchema{Name: "articles", Fields: []FieldDefinition{
				{Name: "outer", Type: FieldTypeArray, Schema: []FieldDefinition{
					{Name: "inner", Type: FieldTypeArray, Schema: []FieldDefinition{{Name: "x", Type: FieldTypeString}}},
				}},
			}},
		},
		{
			name: "非文件字段带extract_config",
			draft: &CollectionSchema{Name: "articles", Fields: []FieldDefinition{
				{Name: "body", Type: FieldTypeText, ExtractConfig: &ExtractConfig{ExtractText: true}},
			}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateSchema(tc.draft)
			require.Error(t, err)
			assert.True(t, IsSchemaError(err), "expected schema error, got %v", err)
		})
	}
}

func TestValidateSchema_PureFunction(t *testing.T) {
	draft := &CollectionSchema{
		Name: "docs",
		Fields: []FieldDefinition{
			{Name: "body", Type: FieldTypeText, Vectorize: true},
		},
	}

	schema, err := ValidateSchema(draft)
	require.NoError(t, err)

	// 归一化写在返回值上，草案本身不被改动
	assert.Empty(t, draft.Fields[0].StoreIn)
	assert.Contains(t, schema.Fields[0].StoreIn, StoreVectorIndex)
}

func TestParseSchema_YAMLAndJSON(t *testing.T) {
	yamlDraft := []byte(`
name: articles
fields:
  - name: title
    type: string
    required: true
  - name: status
    type: enum
    values: [draft, published]
`)
	schema, err := ParseSchema(yamlDraft)
	require.NoError(t, err)
	assert.Equal(t, "articles", schema.Name)
	assert.Len(t, schema.Fields, 2)

	jsonDraft := []byte(`{"name":"articles","fields":[{"name":"title","type":"string"}]}`)
	schema, err = ParseSchema(jsonDraft)
	require.NoError(t, err)
	assert.Equal(t, "articles", schema.Name)
}

func TestValidateExtension(t *testing.T) {
	current := &CollectionSchema{
		Name: "articles",
		Fields: []FieldDefinition{
			{Name: "title", Type: FieldTypeString, StoreIn: []StoreLocation{StoreRelational}},
		},
	}

	t.Run("追加新字段", func(t *testing.T) {
		fields, err := ValidateExtension(current, []FieldDefinition{
			{Name: "summary", Type: FieldTypeText},
		})
		require.NoError(t, err)
		require.Len(t, fields, 1)
		assert.True(t, fields[0].StoredIn(StoreRelational))
	})

	t.Run("重定义已有字段被拒", func(t *testing.T) {
		_, err := ValidateExtension(current, []FieldDefinition{
			{Name: "title", Type: FieldTypeText},
		})
		require.Error(t, err)
	})

	t.Run("新字段不可required", func(t *testing.T) {
		_, err := ValidateExtension(current, []FieldDefinition{
			{Name: "summary", Type: FieldTypeText, Required: true},
		})
		require.Error(t, err)
	})

	t.Run("空扩展被拒", func(t *testing.T) {
		_, err := ValidateExtension(current, nil)
		require.Error(t, err)
	})
}

func TestPointID_Deterministic(t *testing.T) {
	a := PointID("rec-1", "body", 0)
	b := PointID("rec-1", "body", 0)
	c := PointID("rec-1", "body", 1)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, PointID("rec-1", "body", 12), PointID("rec-1", "body", 21))
}

func TestMarshalSchema_RoundTrip(t *testing.T) {
	schema, err := ValidateSchema(&CollectionSchema{
		Name: "articles",
		Fields: []FieldDefinition{
			{Name: "title", Type: FieldTypeString, Vectorize: true},
		},
		Config: CollectionConfig{ChunkSize: 512},
	})
	require.NoError(t, err)

	data, err := MarshalSchema(schema)
	require.NoError(t, err)

	restored, err := UnmarshalSchema(data)
	require.NoError(t, err)
	assert.Equal(t, schema.Name, restored.Name)
	assert.Equal(t, schema.Fields[0].StoreIn, restored.Fields[0].StoreIn)
	assert.Equal(t, 512, restored.Config.EffectiveChunkSize())
	assert.Equal(t, DefaultChunkOverlap, restored.Config.EffectiveChunkOverlap())
}

func TestIsSchemaError(t *testing.T) {
	assert.True(t, IsSchemaError(NewSchemaError("bad")))
	assert.False(t, IsSchemaError(errors.New("other")))
}
