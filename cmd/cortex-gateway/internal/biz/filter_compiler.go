package biz

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"cortex/cmd/cortex-gateway/internal/domain"
)

// 过滤操作符
const (
	OpEq  = "$eq"
	OpNe  = "$ne"
	OpGt  = "$gt"
	OpGte = "$gte"
	OpLt  = "$lt"
	OpLte = "$lte"
)

// opToSQL 操作符到SQL比较符
var opToSQL = map[string]string{
	OpEq: "=", OpNe: "<>", OpGt: ">", OpGte: ">=", OpLt: "<", OpLte: "<=",
}

// opToExpr 操作符到向量payload表达式比较符
var opToExpr = map[string]string{
	OpEq: "==", OpNe: "!=", OpGt: ">", OpGte: ">=", OpLt: "<", OpLte: "<=",
}

// CompiledFilter 编译结果：同一组条件的两种按存储形态
type CompiledFilter struct {
	// Clauses/Args 关系谓词，彼此AND
	Clauses []string
	Args    []any
	// VectorExpr 向量payload谓词（milvus表达式），空串表示无
	VectorExpr string
	// PayloadCovered 所有条件是否都能由payload谓词覆盖
	// 为true时语义检索无需关系侧预过滤
	PayloadCovered bool
	// PayloadOnlyFields 只存在向量payload里的过滤字段
	// 关系侧无法求值，仅过滤模式必须拒绝而非悄悄丢弃
	PayloadOnlyFields []string
}

// Empty 是否无任何条件
func (c *CompiledFilter) Empty() bool {
	return len(c.Clauses) == 0 && c.VectorExpr == ""
}

// FilterCompiler 过滤编译器
// 把结构化过滤表达式编译为按存储拆分的谓词，编译期快速失败
type FilterCompiler struct{}

// NewFilterCompiler 创建过滤编译器
func NewFilterCompiler() *FilterCompiler {
	return &FilterCompiler{}
}

// Compile 编译过滤表达式
// 裸值视为$eq；所有条件隐式AND，不支持OR
func (c *FilterCompiler) Compile(schema *domain.CollectionSchema, filters map[string]any) (*CompiledFilter, error) {
	out := &CompiledFilter{PayloadCovered: true}
	if len(filters) == 0 {
		return out, nil
	}

	// map遍历无序，固定字段顺序让产物可复现
	names := make([]string, 0, len(filters))
	for name := range filters {
		names = append(names, name)
	}
	sort.Strings(names)

	var exprParts []string
	for _, name := range names {
		field, ok := schema.Field(name)
		if !ok {
			return nil, domain.NewFilterError(fmt.Sprintf("unknown field: %s", name))
		}
		if !field.Filterable {
			return nil, domain.NewFilterError(fmt.Sprintf("field %s is not filterable", name))
		}

		conds, err := normalizeConditions(field, filters[name])
		if err != nil {
			return nil, err
		}

		// payload覆盖规则与Router写入PayloadBase的规则一致
		inRelational := field.StoredIn(domain.StoreRelational)
		inPayload := field.StoredIn(domain.StoreVectorPayload) || (field.Filterable && payloadFriendly(field.Type))
		if !inRelational && !inPayload {
			return nil, domain.NewFilterError(fmt.Sprintf("field %s is not stored in a filterable location", name))
		}
		if !inRelational {
			out.PayloadOnlyFields = append(out.PayloadOnlyFields, name)
		}

		for _, cond := range conds {
			if inRelational {
				out.Clauses = append(out.Clauses, fmt.Sprintf("%q %s ?", name, opToSQL[cond.op]))
				out.Args = append(out.Args, cond.value)
			}
			if inPayload {
				exprParts = append(exprParts, payloadExpr(name, cond.op, cond.value))
			} else {
				out.PayloadCovered = false
			}
		}
	}

	out.VectorExpr = strings.Join(exprParts, " and ")
	return out, nil
}

type condition struct {
	op    string
	value any
}

// normalizeConditions 单字段条件归一化：裸值转$eq、操作符合法性、值类型转换
func normalizeConditions(field *domain.FieldDefinition, raw any) ([]condition, error) {
	ops, isOps := raw.(map[string]any)
	if !isOps {
		ops = map[string]any{OpEq: raw}
	}
	if len(ops) == 0 {
		return nil, domain.NewFilterError(fmt.Sprintf("field %s: empty condition", field.Name))
	}

	opNames := make([]string, 0, len(ops))
	for op := range ops {
		opNames = append(opNames, op)
	}
	sort.Strings(opNames)

	var out []condition
	for _, op := range opNames {
		if _, known := opToSQL[op]; !known {
			return nil, domain.NewFilterError(fmt.Sprintf("field %s: unsupported operator %s", field.Name, op))
		}
		if err := checkOperator(field, op); err != nil {
			return nil, err
		}
		value, err := convertValue(field, ops[op])
		if err != nil {
			return nil, domain.NewFilterError(fmt.Sprintf("field %s: invalid operand for %s: %v", field.Name, op, ops[op]))
		}
		out = append(out, condition{op: op, value: value})
	}
	return out, nil
}

// checkOperator 操作符对字段类型的合法性
func checkOperator(field *domain.FieldDefinition, op string) error {
	switch field.Type {
	case domain.FieldTypeBoolean:
		if op != OpEq {
			return domain.NewFilterError(fmt.Sprintf("field %s: boolean fields only support %s", field.Name, OpEq))
		}
	case domain.FieldTypeEnum:
		if op != OpEq && op != OpNe {
			return domain.NewFilterError(fmt.Sprintf("field %s: enum fields only support %s and %s", field.Name, OpEq, OpNe))
		}
	case domain.FieldTypeString, domain.FieldTypeText, domain.FieldTypeInt,
		domain.FieldTypeFloat, domain.FieldTypeDate, domain.FieldTypeDateTime:
		// 全部操作符合法
	default:
		return domain.NewFilterError(fmt.Sprintf("field %s: type %s does not support filtering", field.Name, field.Type))
	}
	return nil
}

// payloadExpr 条件的向量payload表达式形态
func payloadExpr(name, op string, value any) string {
	return fmt.Sprintf(`payload["%s"] %s %s`, name, opToExpr[op], exprLiteral(value))
}

// exprLiteral 表达式字面量，字符串与时间加引号
func exprLiteral(v any) string {
	switch t := v.(type) {
	case string:
		return strconv.Quote(t)
	case time.Time:
		return strconv.Quote(t.UTC().Format(time.RFC3339))
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
