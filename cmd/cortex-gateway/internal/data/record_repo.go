package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cortex/cmd/cortex-gateway/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// RecordRepository 动态建表的关系存储实现
// 每个集合一张主表，数组字段一张子表，表结构全部由schema推导
type RecordRepository struct {
	data *Data
	log  *log.Helper
}

// NewRecordRepo 创建记录仓储
func NewRecordRepo(data *Data, logger log.Logger) domain.RecordRepository {
	return &RecordRepository{data: data, log: log.NewHelper(logger)}
}

// CreateTables 按schema建主表、子表与索引，单事务
func (r *RecordRepository) CreateTables(ctx context.Context, schema *domain.CollectionSchema) error {
	statements, err := buildTableStatements(schema)
	if err != nil {
		return err
	}

	return r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, stmt := range statements {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("execute DDL: %w", err)
			}
		}
		return nil
	})
}

// AddColumns 追加新字段：标量加列，数组字段建新子表
func (r *RecordRepository) AddColumns(ctx context.Context, schema *domain.CollectionSchema, fields []domain.FieldDefinition) error {
	table := schema.Name
	var statements []string
	for i := range fields {
		f := &fields[i]
		if f.Type == domain.FieldTypeArray {
			childStmts, err := buildChildTableStatements(schema, f)
			if err != nil {
				return err
			}
			statements = append(statements, childStmts...)
			continue
		}
		if !f.StoredIn(domain.StoreRelational) {
			continue
		}
		statements = append(statements,
			fmt.Sprintf(`ALTER TABLE %q ADD COLUMN IF NOT EXISTS %s`, table, columnDefinition(f)))
		if f.Indexed {
			statements = append(statements, indexStatement(table, f.Name))
		}
	}

	return r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, stmt := range statements {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("execute DDL: %w", err)
			}
		}
		return nil
	})
}

// DropTables 先删子表再删主表
func (r *RecordRepository) DropTables(ctx context.Context, schema *domain.CollectionSchema) error {
	return r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range schema.Fields {
			f := &schema.Fields[i]
			if f.Type != domain.FieldTypeArray {
				continue
			}
			if err := tx.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %q CASCADE`, childTableName(schema.Name, f.Name))).Error; err != nil {
				return err
			}
		}
		return tx.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %q CASCADE`, schema.Name)).Error
	})
}

// InsertRow 单事务插入主行与子表行
func (r *RecordRepository) InsertRow(ctx context.Context, schema *domain.CollectionSchema, recordID string, row map[string]any, children map[string][]domain.ChildRow) error {
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		columns := []string{`"id"`}
		placeholders := []string{"?"}
		args := []any{recordID}
		for name, value := range row {
			columns = append(columns, fmt.Sprintf("%q", name))
			placeholders = append(placeholders, "?")
			args = append(args, encodeValue(value))
		}

		insert := fmt.Sprintf(`INSERT INTO %q (%s) VALUES (%s)`,
			schema.Name, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
		if err := tx.Exec(insert, args...).Error; err != nil {
			return err
		}

		return insertChildren(tx, schema.Name, recordID, children)
	})
	return r.mapWriteError(err)
}

// UpdateRow 单事务更新主行、整组替换子表行
func (r *RecordRepository) UpdateRow(ctx context.Context, schema *domain.CollectionSchema, recordID string, row map[string]any, children map[string][]domain.ChildRow) error {
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sets := []string{`"updated_at" = NOW()`}
		var args []any
		for name, value := range row {
			sets = append(sets, fmt.Sprintf("%q = ?", name))
			args = append(args, encodeValue(value))
		}
		args = append(args, recordID)

		update := fmt.Sprintf(`UPDATE %q SET %s WHERE "id" = ?`, schema.Name, strings.Join(sets, ", "))
		result := tx.Exec(update, args...)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrRecordNotFound
		}

		// 子表整组替换：先清后插，不做增量diff
		for i := range schema.Fields {
			f := &schema.Fields[i]
			if f.Type != domain.FieldTypeArray {
				continue
			}
			if _, touched := children[f.Name]; !touched {
				continue
			}
			del := fmt.Sprintf(`DELETE FROM %q WHERE "parent_id" = ?`, childTableName(schema.Name, f.Name))
			if err := tx.Exec(del, recordID).Error; err != nil {
				return err
			}
		}
		return insertChildren(tx, schema.Name, recordID, children)
	})
	return r.mapWriteError(err)
}

// DeleteRow 删除主行，子表行由外键级联
func (r *RecordRepository) DeleteRow(ctx context.Context, schema *domain.CollectionSchema, recordID string) error {
	result := r.data.db.WithContext(ctx).
		Exec(fmt.Sprintf(`DELETE FROM %q WHERE "id" = ?`, schema.Name), recordID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

// FetchRow 读主行
func (r *RecordRepository) FetchRow(ctx context.Context, schema *domain.CollectionSchema, recordID string) (map[string]any, error) {
	var row map[string]any
	err := r.data.db.WithContext(ctx).
		Raw(fmt.Sprintf(`SELECT * FROM %q WHERE "id" = ?`, schema.Name), recordID).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if len(row) == 0 {
		return nil, domain.ErrRecordNotFound
	}
	return normalizeRow(row), nil
}

// FetchChildren 读数组子表行，按item_index升序
func (r *RecordRepository) FetchChildren(ctx context.Context, schema *domain.CollectionSchema, field, recordID string) ([]map[string]any, error) {
	var rows []map[string]any
	err := r.data.db.WithContext(ctx).
		Raw(fmt.Sprintf(`SELECT * FROM %q WHERE "parent_id" = ? ORDER BY "item_index"`, childTableName(schema.Name, field)), recordID).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		out[i] = normalizeRow(row)
	}
	return out, nil
}

// FetchRows 按ID批量读主行
func (r *RecordRepository) FetchRows(ctx context.Context, schema *domain.CollectionSchema, recordIDs []string) ([]map[string]any, error) {
	if len(recordIDs) == 0 {
		return nil, nil
	}
	var rows []map[string]any
	err := r.data.db.WithContext(ctx).
		Raw(fmt.Sprintf(`SELECT * FROM %q WHERE "id" IN ?`, schema.Name), recordIDs).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		out[i] = normalizeRow(row)
	}
	return out, nil
}

// QueryRows 按谓词分页读主行
func (r *RecordRepository) QueryRows(ctx context.Context, schema *domain.CollectionSchema, q domain.RowQuery) ([]map[string]any, error) {
	sql, args := buildSelect(schema.Name, "*", q)
	var rows []map[string]any
	if err := r.data.db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		out[i] = normalizeRow(row)
	}
	return out, nil
}

// QueryRowIDs 按谓词读主行ID集合
func (r *RecordRepository) QueryRowIDs(ctx context.Context, schema *domain.CollectionSchema, q domain.RowQuery) ([]string, error) {
	sql, args := buildSelect(schema.Name, `"id"`, q)
	var ids []string
	if err := r.data.db.WithContext(ctx).Raw(sql, args...).Scan(&ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// SetVectorStatus 原地更新JSONB状态列里的单个字段
func (r *RecordRepository) SetVectorStatus(ctx context.Context, schema *domain.CollectionSchema, recordID, field string, status domain.VectorStatus) error {
	update := fmt.Sprintf(
		`UPDATE %q SET %q = jsonb_set(COALESCE(%q, '{}'::jsonb), ?, to_jsonb(?::text)) WHERE "id" = ?`,
		schema.Name, domain.VectorStatusColumn, domain.VectorStatusColumn)
	result := r.data.db.WithContext(ctx).
		Exec(update, pq.Array([]string{field}), string(status), recordID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

// mapWriteError 唯一冲突映射为DuplicateKey
func (r *RecordRepository) mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return domain.NewDuplicateKeyError(pqErr.Constraint)
	}
	return err
}

// insertChildren 插子表行
func insertChildren(tx *gorm.DB, table, recordID string, children map[string][]domain.ChildRow) error {
	for field, rows := range children {
		child := childTableName(table, field)
		for _, row := range rows {
			columns := []string{`"parent_id"`, `"item_index"`}
			placeholders := []string{"?", "?"}
			args := []any{recordID, row.Index}
			for name, value := range row.Values {
				columns = append(columns, fmt.Sprintf("%q", name))
				placeholders = append(placeholders, "?")
				args = append(args, encodeValue(value))
			}
			insert := fmt.Sprintf(`INSERT INTO %q (%s) VALUES (%s)`,
				child, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
			if err := tx.Exec(insert, args...).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

// buildSelect 拼查询语句，谓词彼此AND
func buildSelect(table, projection string, q domain.RowQuery) (string, []any) {
	var sb strings.Builder
	fmt.Fprintf(&sb, `SELECT %s FROM %q`, projection, table)
	if len(q.Clauses) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(q.Clauses, " AND "))
	}
	if q.OrderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(q.OrderBy)
	}
	args := append([]any(nil), q.Args...)
	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}
	if q.Offset > 0 {
		sb.WriteString(" OFFSET ?")
		args = append(args, q.Offset)
	}
	return sb.String(), args
}

// buildTableStatements 主表、子表与索引的DDL集合
func buildTableStatements(schema *domain.CollectionSchema) ([]string, error) {
	columns := []string{
		`"id" UUID PRIMARY KEY`,
		`"created_at" TIMESTAMPTZ NOT NULL DEFAULT NOW()`,
		`"updated_at" TIMESTAMPTZ NOT NULL DEFAULT NOW()`,
	}
	if schema.RequiresVectors() {
		columns = append(columns, fmt.Sprintf(`%q JSONB NOT NULL DEFAULT '{}'::jsonb`, domain.VectorStatusColumn))
	}

	var indexes, childStmts []string
	for i := range schema.Fields {
		f := &schema.Fields[i]
		if f.Type == domain.FieldTypeArray {
			stmts, err := buildChildTableStatements(schema, f)
			if err != nil {
				return nil, err
			}
			childStmts = append(childStmts, stmts...)
			continue
		}
		if !f.StoredIn(domain.StoreRelational) {
			continue
		}
		columns = append(columns, columnDefinition(f))
		if f.Indexed {
			indexes = append(indexes, indexStatement(schema.Name, f.Name))
		}
	}

	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %q (\n  %s\n)", schema.Name, strings.Join(columns, ",\n  "))
	statements := append([]string{create}, childStmts...)
	return append(statements, indexes...), nil
}

// buildChildTableStatements 数组字段的子表DDL：父ID外键级联删除
func buildChildTableStatements(schema *domain.CollectionSchema, f *domain.FieldDefinition) ([]string, error) {
	child := childTableName(schema.Name, f.Name)
	columns := []string{
		`"item_id" BIGSERIAL PRIMARY KEY`,
		fmt.Sprintf(`"parent_id" UUID NOT NULL REFERENCES %q("id") ON DELETE CASCADE`, schema.Name),
		`"item_index" INTEGER NOT NULL`,
	}
	for i := range f.Schema {
		nested := &f.Schema[i]
		if nested.Type == domain.FieldTypeArray {
			return nil, domain.NewSchemaError(fmt.Sprintf("field %s: nested arrays are not supported", f.Name))
		}
		if !nested.StoredIn(domain.StoreRelational) {
			continue
		}
		columns = append(columns, columnDefinition(nested))
	}

	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %q (\n  %s\n)", child, strings.Join(columns, ",\n  "))
	index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q ("parent_id")`,
		"idx_"+child+"_parent", child)
	return []string{create, index}, nil
}

// columnDefinition 单列定义：类型、非空、唯一、枚举CHECK
func columnDefinition(f *domain.FieldDefinition) string {
	parts := []string{fmt.Sprintf("%q %s", f.Name, columnType(f.Type))}
	if f.Required {
		parts = append(parts, "NOT NULL")
	}
	if f.Unique {
		parts = append(parts, "UNIQUE")
	}
	if f.Type == domain.FieldTypeEnum && len(f.EnumValues) > 0 {
		quoted := make([]string, len(f.EnumValues))
		for i, v := range f.EnumValues {
			quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
		}
		parts = append(parts, fmt.Sprintf("CHECK (%q IN (%s))", f.Name, strings.Join(quoted, ", ")))
	}
	return strings.Join(parts, " ")
}

// columnType 字段类型到SQL类型
func columnType(t domain.FieldType) string {
	switch t {
	case domain.FieldTypeString, domain.FieldTypeText, domain.FieldTypeEnum, domain.FieldTypeFile:
		return "TEXT"
	case domain.FieldTypeInt:
		return "BIGINT"
	case domain.FieldTypeFloat:
		return "DOUBLE PRECISION"
	case domain.FieldTypeBoolean:
		return "BOOLEAN"
	case domain.FieldTypeDate:
		return "DATE"
	case domain.FieldTypeDateTime:
		return "TIMESTAMPTZ"
	case domain.FieldTypeJSON:
		return "JSONB"
	default:
		return "TEXT"
	}
}

func childTableName(table, field string) string {
	return table + "_" + strings.ToLower(field)
}

func indexStatement(table, field string) string {
	return fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (%q)`,
		"idx_"+table+"_"+strings.ToLower(field), table, field)
}

// encodeValue 落库前编码：map/切片序列化为JSON
func encodeValue(value any) any {
	switch v := value.(type) {
	case map[string]domain.VectorStatus, map[string]any, []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return value
		}
		return string(raw)
	default:
		return value
	}
}

// normalizeRow 驱动返回的[]byte统一转字符串，方便上层断言
func normalizeRow(row map[string]any) map[string]any {
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			row[k] = string(b)
		}
	}
	return row
}
