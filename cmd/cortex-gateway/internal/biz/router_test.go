package biz

import (
	"testing"
	"time"

	"cortex/cmd/cortex-gateway/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func articleSchema(t *testing.T) *domain.CollectionSchema {
	t.Helper()
	schema, err := domain.ValidateSchema(&domain.CollectionSchema{
		Name: "articles",
		Fields: []domain.FieldDefinition{
			{Name: "title", Type: domain.FieldTypeString, Required: true, Vectorize: true},
			{Name: "body", Type: domain.FieldTypeText, Vectorize: true},
			{Name: "status", Type: domain.FieldTypeEnum, EnumValues: []string{"draft", "published"}, Filterable: true, Default: "draft"},
			{Name: "views", Type: domain.FieldTypeInt, Filterable: true},
			{Name: "rating", Type: domain.FieldTypeFloat},
			{Name: "featured", Type: domain.FieldTypeBoolean},
			{Name: "published_on", Type: domain.FieldTypeDate, Filterable: true},
			{Name: "meta", Type: domain.FieldTypeJSON},
			{Name: "attachment", Type: domain.FieldTypeFile},
			{Name: "authors", Type: domain.FieldTypeArray, Schema: []domain.FieldDefinition{
				{Name: "name", Type: domain.FieldTypeString, Required: true},
				{Name: "email", Type: domain.FieldTypeString},
			}},
		},
	})
	require.NoError(t, err)
	return schema
}

func TestRouter_Decomposition(t *testing.T) {
	router := NewRecordRouter()
	schema := articleSchema(t)

	ws, err := router.Route(schema, "rec-1", map[string]any{
		"title":        "Polystore routing",
		"body":         "Records decompose into per-store write sets.",
		"status":       "published",
		"views":        int64(42),
		"published_on": "2024-03-15",
		"authors": []any{
			map[string]any{"name": "Ada", "email": "ada@example.com"},
			map[string]any{"name": "Grace"},
		},
	})
	require.NoError(t, err)

	// 关系行
	assert.Equal(t, "Polystore routing", ws.Row["title"])
	assert.Equal(t, "published", ws.Row["status"])
	assert.Equal(t, int64(42), ws.Row["views"])
	date, ok := ws.Row["published_on"].(time.Time)
	require.True(t, ok)
	assert.Equal(t, "2024-03-15", date.Format("2006-01-02"))

	// 未提交的可空字段落NULL
	assert.Contains(t, ws.Row, "rating")
	assert.Nil(t, ws.Row["rating"])

	// 子表行保持提交顺序
	require.Len(t, ws.ChildRows["authors"], 2)
	assert.Equal(t, 0, ws.ChildRows["authors"][0].Index)
	assert.Equal(t, "Ada", ws.ChildRows["authors"][0].Values["name"])
	assert.Nil(t, ws.ChildRows["authors"][1].Values["email"])

	// 向量化标记
	require.Len(t, ws.Vectors, 2)
	assert.Equal(t, "title", ws.Vectors[0].Field)
	assert.Equal(t, "body", ws.Vectors[1].Field)

	// 可过滤字段进payload
	assert.Equal(t, "published", ws.PayloadBase["status"])
	assert.Equal(t, int64(42), ws.PayloadBase["views"])
	assert.Equal(t, "2024-03-15T00:00:00Z", ws.PayloadBase["published_on"])

	// 无文件时没有对象上传
	assert.Empty(t, ws.Blobs)
}

func TestRouter_DefaultApplied(t *testing.T) {
	router := NewRecordRouter()
	schema := articleSchema(t)

	ws, err := router.Route(schema, "rec-1", map[string]any{"title": "t"})
	require.NoError(t, err)
	assert.Equal(t, "draft", ws.Row["status"])
}

func TestRouter_FileField(t *testing.T) {
	router := NewRecordRouter()
	schema, err := domain.ValidateSchema(&domain.CollectionSchema{
		Name: "docs",
		Fields: []domain.FieldDefinition{
			{Name: "contract", Type: domain.FieldTypeFile, Vectorize: true},
		},
	})
	require.NoError(t, err)

	ws, err := router.Route(schema, "rec-9", map[string]any{
		"contract": domain.FileInput{
			FileName:    "contract.pdf",
			ContentType: "application/pdf",
			Data:        []byte("%PDF-1.7 fake"),
		},
	})
	require.NoError(t, err)

	require.Len(t, ws.Blobs, 1)
	assert.Equal(t, "rec-9/contract/contract.pdf", ws.Blobs[0].ObjectKey)
	assert.Equal(t, "rec-9/contract/contract.pdf", ws.Row["contract"], "relational row keeps the object key")

	require.Len(t, ws.Vectors, 1)
	assert.Empty(t, ws.Vectors[0].Text)
	assert.Equal(t, "application/pdf", ws.Vectors[0].ContentType)
	assert.NotEmpty(t, ws.Vectors[0].FileData)
	assert.Equal(t, domain.DefaultChunkSize, ws.Vectors[0].ChunkSize)
}

func TestRouter_ValidationRejections(t *testing.T) {
	router := NewRecordRouter()
	schema := articleSchema(t)

	testCases := []struct {
		name    string
		payload map[string]any
	}{
		{
			name:    "必填缺失",
			payload: map[string]any{"body": "x"},
		},
		{
			name:    "未知字段",
			payload: map[string]any{"title": "t", "color": "red"},
		},
		{
			name:    "枚举越界",
			payload: map[string]any{"title": "t", "status": "archived"},
		},
		{
			name:    "整数给了小数",
			payload: map[string]any{"title": "t", "views": 1.5},
		},
		{
			name:    "日期格式错误",
			payload: map[string]any{"title": "t", "published_on": "15/03/2024"},
		},
		{
			name:    "数组项不是对象",
			payload: map[string]any{"title": "t", "authors": []any{"Ada"}},
		},
		{
			name:    "数组项未知字段",
			payload: map[string]any{"title": "t", "authors": []any{map[string]any{"name": "Ada", "twitter": "@ada"}}},
		},
		{
			name:    "数组项必填缺失",
			payload: map[string]any{"title": "t", "authors": []any{map[string]any{"email": "a@b.c"}}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := router.Route(schema, "rec-1", tc.payload)
			require.Error(t, err)
			assert.True(t, domain.IsValidationError(err), "expected validation error, got %v", err)
		})
	}
}

func TestRouter_LenientScalars(t *testing.T) {
	router := NewRecordRouter()
	schema := articleSchema(t)

	ws, err := router.Route(schema, "rec-1", map[string]any{
		"title":    "t",
		"views":    "17",
		"rating":   int64(4),
		"featured": "yes",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(17), ws.Row["views"])
	assert.Equal(t, float64(4), ws.Row["rating"])
	assert.Equal(t, true, ws.Row["featured"])
}

func TestRouter_JSONFieldSerialized(t *testing.T) {
	router := NewRecordRouter()
	schema := articleSchema(t)

	ws, err := router.Route(schema, "rec-1", map[string]any{
		"title": "t",
		"meta":  map[string]any{"source": "import"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"source":"import"}`, ws.Row["meta"].(string))
}

func TestRouter_PartialSingleField(t *testing.T) {
	router := NewRecordRouter()
	schema := articleSchema(t)

	// 必填title未提交也能通过，补丁只路由提交的字段
	ws, err := router.RoutePartial(schema, "rec-1", map[string]any{"views": int64(2024)})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"views": int64(2024)}, ws.Row)
	_, hasTitle := ws.Row["title"]
	assert.False(t, hasTitle)
	_, hasRating := ws.Row["rating"]
	assert.False(t, hasRating, "untouched optional fields must not be written as NULL")
	_, hasStatus := ws.Row["status"]
	assert.False(t, hasStatus, "defaults are not re-applied on partial updates")
	assert.Empty(t, ws.Vectors)
}

func TestRouter_PartialExplicitNull(t *testing.T) {
	router := NewRecordRouter()
	schema := articleSchema(t)

	testCases := []struct {
		name    string
		payload map[string]any
		wantErr bool
	}{
		{name: "可选字段显式null清空", payload: map[string]any{"rating": nil}},
		{name: "必填字段拒绝清空", payload: map[string]any{"title": nil}, wantErr: true},
		{name: "未知字段照常拒绝", payload: map[string]any{"bogus": "x"}, wantErr: true},
	}
	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			ws, err := router.RoutePartial(schema, "rec-1", tt.payload)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			v, present := ws.Row["rating"]
			require.True(t, present)
			assert.Nil(t, v)
		})
	}
}

func TestRouter_PartialVectorizedField(t *testing.T) {
	router := NewRecordRouter()
	schema := articleSchema(t)

	ws, err := router.RoutePartial(schema, "rec-1", map[string]any{"body": "fresh body text"})
	require.NoError(t, err)

	require.Len(t, ws.Vectors, 1)
	assert.Equal(t, "body", ws.Vectors[0].Field)
	assert.Equal(t, "fresh body text", ws.Row["body"])
	_, hasTitle := ws.Row["title"]
	assert.False(t, hasTitle)
}

func TestRouter_BlankTextNotVectorized(t *testing.T) {
	router := NewRecordRouter()
	schema := articleSchema(t)

	ws, err := router.Route(schema, "rec-1", map[string]any{
		"title": "t",
		"body":  "   \n  ",
	})
	require.NoError(t, err)
	require.Len(t, ws.Vectors, 1)
	assert.Equal(t, "title", ws.Vectors[0].Field)
	assert.Equal(t, "   \n  ", ws.Row["body"], "blank text still lands in the relational row")
}
