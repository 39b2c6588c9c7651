package condition

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// 条件表达式：权限附加条件与路由规则共用的封闭表达式类型。
//
// 外部存储形态是宽松的JSON（直接值、数组、$gte/$lte等操作符对象），
// 解析入口统一收敛成四种节点，解释器是纯函数，便于穷举测试：
//
//	Equals  值等于
//	OneOf   值属于集合
//	Range   数值区间（可半开，可排除端点）
//	Not     取反
type Kind int

const (
	KindEquals Kind = iota
	KindOneOf
	KindRange
	KindNot
)

// Expr 条件表达式节点
type Expr struct {
	Kind   Kind
	Equals interface{}
	OneOf  []interface{}
	Range  *RangeExpr
	Not    *Expr
}

// RangeExpr 数值区间
type RangeExpr struct {
	Min          *float64
	Max          *float64
	ExclusiveMin bool
	ExclusiveMax bool
}

// 操作符对象支持的键
const (
	opGte = "$gte"
	opLte = "$lte"
	opGt  = "$gt"
	opLt  = "$lt"
	opEq  = "$eq"
	opNe  = "$ne"
)

// Parse 解析单个条件子句
//
// 支持三种形态：
//   - 直接值           → Equals
//   - 数组             → OneOf（值属于数组）
//   - 操作符对象        → Range / Equals / Not，如 {"$gte":1000,"$lt":50000}
func Parse(raw interface{}) (*Expr, error) {
	switch v := raw.(type) {
	case []interface{}:
		return &Expr{Kind: KindOneOf, OneOf: v}, nil
	case map[string]interface{}:
		return parseOperatorObject(v)
	default:
		return &Expr{Kind: KindEquals, Equals: raw}, nil
	}
}

// parseOperatorObject 解析操作符对象
func parseOperatorObject(obj map[string]interface{}) (*Expr, error) {
	if len(obj) == 0 {
		return nil, fmt.Errorf("条件对象不能为空")
	}

	var rangeExpr *RangeExpr
	var result *Expr

	setBound := func(value interface{}, isMin, exclusive bool) error {
		num, err := toFloat(value)
		if err != nil {
			return fmt.Errorf("区间条件的比较值必须是数值: %v", err)
		}
		if rangeExpr == nil {
			rangeExpr = &RangeExpr{}
		}
		if isMin {
			rangeExpr.Min = &num
			rangeExpr.ExclusiveMin = exclusive
		} else {
			rangeExpr.Max = &num
			rangeExpr.ExclusiveMax = exclusive
		}
		return nil
	}

	for key, value := range obj {
		switch key {
		case opGte:
			if err := setBound(value, true, false); err != nil {
				return nil, err
			}
		case opGt:
			if err := setBound(value, true, true); err != nil {
				return nil, err
			}
		case opLte:
			if err := setBound(value, false, false); err != nil {
				return nil, err
			}
		case opLt:
			if err := setBound(value, false, true); err != nil {
				return nil, err
			}
		case opEq:
			result = &Expr{Kind: KindEquals, Equals: value}
		case opNe:
			result = &Expr{Kind: KindNot, Not: &Expr{Kind: KindEquals, Equals: value}}
		default:
			return nil, fmt.Errorf("不支持的条件操作符: %s", key)
		}
	}

	// $eq/$ne 与区间操作符不允许混用
	if result != nil && rangeExpr != nil {
		return nil, fmt.Errorf("$eq/$ne不能与区间操作符混用")
	}
	if result != nil {
		return result, nil
	}
	return &Expr{Kind: KindRange, Range: rangeExpr}, nil
}

// FromOperator 将路由规则的操作符转换为条件表达式
//
// 路由规则持久化形态是 (operator, value)，操作符集合固定：
// gt/gte/lt/lte/eq/ne/in/not_in。
func FromOperator(operator string, value interface{}) (*Expr, error) {
	switch operator {
	case "eq":
		return &Expr{Kind: KindEquals, Equals: value}, nil
	case "ne":
		return &Expr{Kind: KindNot, Not: &Expr{Kind: KindEquals, Equals: value}}, nil
	case "in":
		list, ok := value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("in操作符的比较值必须是数组")
		}
		return &Expr{Kind: KindOneOf, OneOf: list}, nil
	case "not_in":
		list, ok := value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("not_in操作符的比较值必须是数组")
		}
		return &Expr{Kind: KindNot, Not: &Expr{Kind: KindOneOf, OneOf: list}}, nil
	case "gt", "gte", "lt", "lte":
		num, err := toFloat(value)
		if err != nil {
			return nil, fmt.Errorf("%s操作符的比较值必须是数值: %v", operator, err)
		}
		r := &RangeExpr{}
		switch operator {
		case "gt":
			r.Min = &num
			r.ExclusiveMin = true
		case "gte":
			r.Min = &num
		case "lt":
			r.Max = &num
			r.ExclusiveMax = true
		case "lte":
			r.Max = &num
		}
		return &Expr{Kind: KindRange, Range: r}, nil
	default:
		return nil, fmt.Errorf("不支持的路由操作符: %s", operator)
	}
}

// Evaluate 求值：表达式对给定值是否成立
//
// 求值错误（如区间比较遇到非数值）返回error，由调用方统一按拒绝处理
// （fail-closed）。
func Evaluate(expr *Expr, value interface{}) (bool, error) {
	if expr == nil {
		return false, fmt.Errorf("条件表达式为空")
	}

	switch expr.Kind {
	case KindEquals:
		return looseEquals(expr.Equals, value), nil
	case KindOneOf:
		for _, candidate := range expr.OneOf {
			if looseEquals(candidate, value) {
				return true, nil
			}
		}
		return false, nil
	case KindRange:
		num, err := toFloat(value)
		if err != nil {
			return false, fmt.Errorf("区间条件要求数值: %v", err)
		}
		r := expr.Range
		if r == nil {
			return false, fmt.Errorf("区间条件缺少边界")
		}
		if r.Min != nil {
			if r.ExclusiveMin && num <= *r.Min {
				return false, nil
			}
			if !r.ExclusiveMin && num < *r.Min {
				return false, nil
			}
		}
		if r.Max != nil {
			if r.ExclusiveMax && num >= *r.Max {
				return false, nil
			}
			if !r.ExclusiveMax && num > *r.Max {
				return false, nil
			}
		}
		return true, nil
	case KindNot:
		result, err := Evaluate(expr.Not, value)
		if err != nil {
			return false, err
		}
		return !result, nil
	default:
		return false, fmt.Errorf("未知的条件类型: %d", expr.Kind)
	}
}

// EvaluateAll 求值条件集：每个键对应一个子句，全部满足才通过（AND）
//
// 上下文缺少对应键时该子句不成立（按false处理，不报错）；
// 任何子句解析或求值出错都返回error，调用方按拒绝处理。
func EvaluateAll(conditions map[string]interface{}, context map[string]interface{}) (bool, error) {
	for key, raw := range conditions {
		expr, err := Parse(raw)
		if err != nil {
			return false, fmt.Errorf("条件[%s]解析失败: %v", key, err)
		}

		value, exists := context[key]
		if !exists {
			return false, nil
		}

		ok, err := Evaluate(expr, value)
		if err != nil {
			return false, fmt.Errorf("条件[%s]求值失败: %v", key, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// ========== 值比较辅助 ==========

// looseEquals 宽松相等：数值统一转float64比较，其余按字面比较
//
// JSON反序列化后数值一律是float64，但上下文可能来自Go代码（int等），
// 因此相等比较先尝试数值归一化。
func looseEquals(a, b interface{}) bool {
	na, errA := toFloat(a)
	nb, errB := toFloat(b)
	if errA == nil && errB == nil {
		return na == nb
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// toFloat 数值归一化
func toFloat(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("无法转换为数值: %T", value)
	}
}
