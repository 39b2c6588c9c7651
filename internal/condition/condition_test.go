package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScalar(t *testing.T) {
	expr, err := Parse("electronics")
	require.NoError(t, err)
	assert.Equal(t, KindEquals, expr.Kind)

	ok, err := Evaluate(expr, "electronics")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate(expr, "furniture")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseArray(t *testing.T) {
	expr, err := Parse([]interface{}{"electronics", "office"})
	require.NoError(t, err)
	assert.Equal(t, KindOneOf, expr.Kind)

	ok, err := Evaluate(expr, "office")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate(expr, "furniture")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseRange(t *testing.T) {
	expr, err := Parse(map[string]interface{}{"$gte": float64(1000), "$lt": float64(50000)})
	require.NoError(t, err)
	require.Equal(t, KindRange, expr.Kind)

	cases := []struct {
		value    interface{}
		expected bool
	}{
		{float64(999), false},
		{float64(1000), true}, // 闭端点含边界
		{float64(30000), true},
		{float64(50000), false}, // 开端点不含边界
		{int(2000), true},       // 上下文里的Go整数同样可比较
	}
	for _, c := range cases {
		ok, err := Evaluate(expr, c.value)
		require.NoError(t, err)
		assert.Equal(t, c.expected, ok, "value=%v", c.value)
	}
}

func TestParseNe(t *testing.T) {
	expr, err := Parse(map[string]interface{}{"$ne": "draft"})
	require.NoError(t, err)
	assert.Equal(t, KindNot, expr.Kind)

	ok, err := Evaluate(expr, "submitted")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate(expr, "draft")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseRejectsUnknownOperator(t *testing.T) {
	_, err := Parse(map[string]interface{}{"$regex": ".*"})
	assert.Error(t, err)
}

func TestParseRejectsMixedEqAndRange(t *testing.T) {
	_, err := Parse(map[string]interface{}{"$eq": float64(10), "$gte": float64(5)})
	assert.Error(t, err)
}

func TestParseRejectsEmptyObject(t *testing.T) {
	_, err := Parse(map[string]interface{}{})
	assert.Error(t, err)
}

func TestRangeRequiresNumericValue(t *testing.T) {
	expr, err := Parse(map[string]interface{}{"$gte": float64(1000)})
	require.NoError(t, err)

	_, err = Evaluate(expr, "not-a-number")
	assert.Error(t, err)
}

func TestNumericNormalization(t *testing.T) {
	// JSON反序列化是float64，上下文可能给int，两边都要能对上
	expr, err := Parse(float64(42))
	require.NoError(t, err)

	ok, err := Evaluate(expr, int(42))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate(expr, "42")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFromOperator(t *testing.T) {
	expr, err := FromOperator("gte", float64(50000))
	require.NoError(t, err)

	ok, err := Evaluate(expr, float64(50000))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate(expr, float64(49999))
	require.NoError(t, err)
	assert.False(t, ok)

	expr, err = FromOperator("not_in", []interface{}{"a", "b"})
	require.NoError(t, err)

	ok, err = Evaluate(expr, "c")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = FromOperator("matches", "x")
	assert.Error(t, err)

	_, err = FromOperator("in", "not-an-array")
	assert.Error(t, err)
}

func TestEvaluateAll(t *testing.T) {
	conditions := map[string]interface{}{
		"amount":   map[string]interface{}{"$lte": float64(10000)},
		"category": []interface{}{"electronics", "office"},
	}

	ok, err := EvaluateAll(conditions, map[string]interface{}{
		"amount":   float64(5000),
		"category": "office",
	})
	require.NoError(t, err)
	assert.True(t, ok)

	// 任一子句不满足则整体不通过
	ok, err = EvaluateAll(conditions, map[string]interface{}{
		"amount":   float64(20000),
		"category": "office",
	})
	require.NoError(t, err)
	assert.False(t, ok)

	// 上下文缺键按不满足处理，不报错
	ok, err = EvaluateAll(conditions, map[string]interface{}{
		"amount": float64(5000),
	})
	require.NoError(t, err)
	assert.False(t, ok)

	// 求值错误要上抛，由调用方fail-closed
	_, err = EvaluateAll(conditions, map[string]interface{}{
		"amount":   "not-a-number",
		"category": "office",
	})
	assert.Error(t, err)
}
