package expr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRetryConditions(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	cases := []struct {
		name       string
		expression string
		vars       map[string]any
		want       bool
	}{
		{"always", "true", RetryVars(1, 3, true, errors.New("Country Atlantis not found")), true},
		{"skip not found", "!notFound", RetryVars(1, 3, true, errors.New("Country Atlantis not found")), false},
		{"transient allowed", "!notFound", RetryVars(2, 3, false, errors.New("weather API responded with status: 503")), true},
		{"attempt cap", "attempt < 2", RetryVars(2, 3, false, nil), false},
		{"message match", `error.contains("status: 5")`, RetryVars(1, 3, false, errors.New("weather API responded with status: 502")), true},
		{"budget aware", "attempt < maxRetries", RetryVars(3, 3, false, nil), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			program, err := env.Compile(tc.expression)
			require.NoError(t, err)
			require.Equal(t, tc.expression, program.Source())
			got, err := program.EvalBool(tc.vars)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestCompileRejectsInvalidExpressions(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	_, err = env.Compile("   ")
	require.Error(t, err)

	_, err = env.Compile("attempt + 1")
	require.Error(t, err, "non-boolean expressions are rejected")

	_, err = env.Compile("unknownVar == 1")
	require.Error(t, err)
}

func TestEvalBoolRequiresProgram(t *testing.T) {
	_, err := Program{}.EvalBool(nil)
	require.Error(t, err)
}
