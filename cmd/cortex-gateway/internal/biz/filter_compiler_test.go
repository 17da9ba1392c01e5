package biz

import (
	"testing"
	"time"

	"cortex/cmd/cortex-gateway/internal/domain"
	xerrors "cortex/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filterSchema(t *testing.T) *domain.CollectionSchema {
	t.Helper()
	schema, err := domain.ValidateSchema(&domain.CollectionSchema{
		Name: "articles",
		Fields: []domain.FieldDefinition{
			{Name: "title", Type: domain.FieldTypeString},
			{Name: "status", Type: domain.FieldTypeEnum, EnumValues: []string{"draft", "published"}, Filterable: true},
			{Name: "views", Type: domain.FieldTypeInt, Filterable: true},
			{Name: "featured", Type: domain.FieldTypeBoolean, Filterable: true},
			{Name: "published_on", Type: domain.FieldTypeDate, Filterable: true},
			{Name: "tag", Type: domain.FieldTypeString, Filterable: true, StoreIn: []domain.StoreLocation{domain.StoreVectorPayload}},
			{Name: "secret", Type: domain.FieldTypeString},
		},
	})
	require.NoError(t, err)
	return schema
}

func TestFilterCompiler_BareValueIsEq(t *testing.T) {
	compiler := NewFilterCompiler()
	schema := filterSchema(t)

	compiled, err := compiler.Compile(schema, map[string]any{"status": "published"})
	require.NoError(t, err)

	require.Len(t, compiled.Clauses, 1)
	assert.Equal(t, `"status" = ?`, compiled.Clauses[0])
	assert.Equal(t, []any{"published"}, compiled.Args)
	assert.Equal(t, `payload["status"] == "published"`, compiled.VectorExpr)
	assert.True(t, compiled.PayloadCovered)
}

func TestFilterCompiler_RangeOperators(t *testing.T) {
	compiler := NewFilterCompiler()
	schema := filterSchema(t)

	compiled, err := compiler.Compile(schema, map[string]any{
		"views": map[string]any{"$gte": 10, "$lt": 100},
	})
	require.NoError(t, err)

	// 操作符名排序后$gte在$lt之前
	require.Len(t, compiled.Clauses, 2)
	assert.Equal(t, `"views" >= ?`, compiled.Clauses[0])
	assert.Equal(t, `"views" < ?`, compiled.Clauses[1])
	assert.Equal(t, []any{int64(10), int64(100)}, compiled.Args)
	assert.Equal(t, `payload["views"] >= 10 and payload["views"] < 100`, compiled.VectorExpr)
}

func TestFilterCompiler_DeterministicFieldOrder(t *testing.T) {
	compiler := NewFilterCompiler()
	schema := filterSchema(t)

	filters := map[string]any{
		"views":  map[string]any{"$gt": 5},
		"status": "draft",
	}
	first, err := compiler.Compile(schema, filters)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		again, err := compiler.Compile(schema, filters)
		require.NoError(t, err)
		assert.Equal(t, first.Clauses, again.Clauses)
		assert.Equal(t, first.VectorExpr, again.VectorExpr)
	}
	// 字段名排序：status在views前
	assert.Equal(t, `"status" = ?`, first.Clauses[0])
	assert.Equal(t, `"views" > ?`, first.Clauses[1])
}

func TestFilterCompiler_DateOperand(t *testing.T) {
	compiler := NewFilterCompiler()
	schema := filterSchema(t)

	compiled, err := compiler.Compile(schema, map[string]any{
		"published_on": map[string]any{"$gte": "2024-01-01", "$lte": "2024-12-31"},
	})
	require.NoError(t, err)

	require.Len(t, compiled.Args, 2)
	lo, ok := compiled.Args[0].(time.Time)
	require.True(t, ok, "date operands compile to native time values")
	assert.Equal(t, "2024-01-01", lo.Format("2006-01-02"))
	assert.Contains(t, compiled.VectorExpr, `payload["published_on"] >= "2024-01-01T00:00:00Z"`)
	assert.Contains(t, compiled.VectorExpr, `payload["published_on"] <= "2024-12-31T00:00:00Z"`)
}

func TestFilterCompiler_Rejections(t *testing.T) {
	compiler := NewFilterCompiler()
	schema := filterSchema(t)

	testCases := []struct {
		name    string
		filters map[string]any
	}{
		{
			name:    "未知字段",
			filters: map[string]any{"missing": 1},
		},
		{
			name:    "不可过滤字段",
			filters: map[string]any{"secret": "x"},
		},
		{
			name:    "未知操作符",
			filters: map[string]any{"views": map[string]any{"$in": []any{1, 2}}},
		},
		{
			name:    "布尔字段范围比较",
			filters: map[string]any{"featured": map[string]any{"$gt": false}},
		},
		{
			name:    "枚举字段范围比较",
			filters: map[string]any{"status": map[string]any{"$lt": "published"}},
		},
		{
			name:    "枚举越界操作数",
			filters: map[string]any{"status": "archived"},
		},
		{
			name:    "整数字段非数字操作数",
			filters: map[string]any{"views": map[string]any{"$gt": "many"}},
		},
		{
			name:    "空条件",
			filters: map[string]any{"views": map[string]any{}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := compiler.Compile(schema, tc.filters)
			require.Error(t, err)
			assert.Equal(t, xerrors.ReasonFilterInvalid, xerrors.Reason(err), "expected filter error, got %v", err)
		})
	}
}

func TestFilterCompiler_PayloadOnlyFieldTracked(t *testing.T) {
	c := NewFilterCompiler()
	schema := filterSchema(t)

	compiled, err := c.Compile(schema, map[string]any{"tag": "infra", "views": int64(10)})
	require.NoError(t, err)

	// payload专属字段不出关系谓词，但必须被点名而非悄悄丢弃
	assert.Equal(t, []string{"tag"}, compiled.PayloadOnlyFields)
	assert.Equal(t, []string{`"views" = ?`}, compiled.Clauses)
	assert.Contains(t, compiled.VectorExpr, `payload["tag"] == "infra"`)
}

func TestFilterCompiler_EmptyFilter(t *testing.T) {
	compiler := NewFilterCompiler()
	schema := filterSchema(t)

	compiled, err := compiler.Compile(schema, nil)
	require.NoError(t, err)
	assert.True(t, compiled.Empty())
	assert.True(t, compiled.PayloadCovered)
}

func TestFilterCompiler_BooleanEq(t *testing.T) {
	compiler := NewFilterCompiler()
	schema := filterSchema(t)

	compiled, err := compiler.Compile(schema, map[string]any{"featured": true})
	require.NoError(t, err)
	assert.Equal(t, `"featured" = ?`, compiled.Clauses[0])
	assert.Equal(t, `payload["featured"] == true`, compiled.VectorExpr)
}
