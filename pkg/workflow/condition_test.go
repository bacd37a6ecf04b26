package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalCondition(t *testing.T) {
	scope := map[string]any{
		"status":   "active",
		"count":    float64(5),
		"priority": 2,
		"enabled":  true,
		"name":     "",
		"tags":     []any{"urgent", "billing"},
		"user": map[string]any{
			"role": "admin",
			"settings": map[string]any{
				"theme": "dark",
			},
		},
		"items": []any{
			map[string]any{"id": "a"},
			map[string]any{"id": "b"},
		},
		"steps": map[string]any{
			"classify": map[string]any{
				"output": "question",
			},
		},
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"string equality", `status == "active"`, true},
		{"string inequality", `status != "inactive"`, true},
		{"numeric comparison", `count > 3`, true},
		{"numeric equality with int scope value", `priority == 2`, true},
		{"mixed int float comparison", `priority < 2.5`, true},
		{"boolean literal", `enabled == true`, true},
		{"bare boolean variable", `enabled`, true},
		{"and combinator", `status == "active" && count >= 5`, true},
		{"and short circuits", `count > 10 && missing.field == 1`, false},
		{"or combinator", `status == "closed" || enabled`, true},
		{"word operators", `status == "active" and not (count < 1)`, true},
		{"negation", `!enabled == false`, true},
		{"nested path", `user.settings.theme == "dark"`, true},
		{"step output path", `steps.classify.output == "question"`, true},
		{"array index", `tags[0] == "urgent"`, true},
		{"index then field", `items[1].id == "b"`, true},
		{"bracket string key", `user["role"] == "admin"`, true},
		{"len of array", `len(tags) == 2`, true},
		{"len of string", `len(status) > 3`, true},
		{"empty string", `empty(name)`, true},
		{"empty of populated array", `empty(tags)`, false},
		{"exists present", `exists(user.role)`, true},
		{"exists missing", `exists(user.email)`, false},
		{"contains substring", `contains(status, "act")`, true},
		{"contains array element", `contains(tags, "billing")`, true},
		{"contains map key", `contains(user, "role")`, true},
		{"missing variable is falsy", `missing`, false},
		{"missing variable equality", `missing == "x"`, false},
		{"out of range index is nil", `exists(tags[9])`, false},
		{"string ordering", `status < "b"`, true},
		{"parenthesised grouping", `(count > 1 || enabled) && status == "active"`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvalCondition(tt.expr, scope)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileConditionErrors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"empty expression", "   "},
		{"unterminated string", `status == "active`},
		{"dangling operator", `count >`},
		{"unbalanced parens", `(count > 1`},
		{"unknown function", `evalsh("rm -rf")`},
		{"wrong arity", `len(a, b)`},
		{"trailing garbage", `count > 1 count`},
		{"bad index", `tags[status]`},
		{"unexpected character", `count @ 3`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileCondition(tt.expr)
			assert.Error(t, err)
		})
	}
}

func TestConditionEvalTypeErrors(t *testing.T) {
	scope := map[string]any{
		"count": float64(5),
		"label": "high",
	}

	_, err := EvalCondition(`count > "three"`, scope)
	assert.Error(t, err, "ordering across types should fail")

	_, err = EvalCondition(`len(count) > 0`, scope)
	assert.Error(t, err, "len of a number should fail")

	_, err = EvalCondition(`label.field == 1`, scope)
	assert.Error(t, err, "field access on a string should fail")
}

func TestConditionReuse(t *testing.T) {
	cond, err := CompileCondition(`attempt < 3`)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		got, err := cond.Eval(map[string]any{"attempt": i})
		require.NoError(t, err)
		assert.Equal(t, i < 3, got)
	}
	assert.Equal(t, "attempt < 3", cond.String())
}
