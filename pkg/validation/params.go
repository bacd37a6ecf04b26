package validation

import "fmt"

// Policy carries the parameter bounds applied to workflow configs. The
// temperature ceiling is 1.0 by policy even though some providers accept
// up to 2; deployments can widen it through configuration.
type Policy struct {
	TemperatureMax float64
	MaxTokensLimit int
	AllowedModels  []string
}

// DefaultPolicy mirrors the supported-model vocabulary of the platform.
func DefaultPolicy() Policy {
	return Policy{
		TemperatureMax: 1.0,
		MaxTokensLimit: 32768,
		AllowedModels: []string{
			"gpt-4", "gpt-4o", "gpt-4-turbo", "gpt-3.5-turbo",
			"claude-3-opus", "claude-3-sonnet", "claude-3-haiku",
			"llama3", "qwen3",
		},
	}
}

// ParameterValidator checks individual workflow parameters against a
// policy. The zero value is not usable; construct with
// NewParameterValidator.
type ParameterValidator struct {
	policy Policy
	models map[string]bool
}

func NewParameterValidator(policy Policy) *ParameterValidator {
	if policy.TemperatureMax == 0 {
		policy.TemperatureMax = 1.0
	}
	if policy.MaxTokensLimit == 0 {
		policy.MaxTokensLimit = 32768
	}

	models := make(map[string]bool, len(policy.AllowedModels))
	for _, m := range policy.AllowedModels {
		models[m] = true
	}
	return &ParameterValidator{policy: policy, models: models}
}

// ValidateTemperature accepts values in [0.0, TemperatureMax].
func (v *ParameterValidator) ValidateTemperature(x float64) ValidationResult {
	if x < 0.0 || x > v.policy.TemperatureMax {
		return Fail(fmt.Sprintf("temperature must be between 0.0 and %.1f, got %v", v.policy.TemperatureMax, x))
	}
	return OK()
}

// ValidateMaxTokens accepts positive values up to the policy limit.
func (v *ParameterValidator) ValidateMaxTokens(x int) ValidationResult {
	if x <= 0 {
		return Fail(fmt.Sprintf("max_tokens must be a positive integer, got %d", x))
	}
	if x > v.policy.MaxTokensLimit {
		return Fail(fmt.Sprintf("max_tokens %d exceeds the limit of %d", x, v.policy.MaxTokensLimit))
	}
	return OK()
}

// ValidateModelName accepts non-empty names present in the allow-list.
// An empty allow-list accepts any non-empty name.
func (v *ParameterValidator) ValidateModelName(x string) ValidationResult {
	if x == "" {
		return Fail("model name cannot be empty")
	}
	if len(v.models) > 0 && !v.models[x] {
		return Fail(fmt.Sprintf("model %q is not in the allowed model list", x))
	}
	return OK()
}

var defaultParams = NewParameterValidator(DefaultPolicy())

// ValidateTemperature checks x against the default policy.
func ValidateTemperature(x float64) ValidationResult {
	return defaultParams.ValidateTemperature(x)
}

// ValidateMaxTokens checks x against the default policy.
func ValidateMaxTokens(x int) ValidationResult {
	return defaultParams.ValidateMaxTokens(x)
}

// ValidateModelName checks x against the default policy.
func ValidateModelName(x string) ValidationResult {
	return defaultParams.ValidateModelName(x)
}
