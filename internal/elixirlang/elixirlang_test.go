package elixirlang

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nshkrdotcom/cpgengine/internal/analyzer"
	"github.com/nshkrdotcom/cpgengine/internal/astmodel"
	"github.com/nshkrdotcom/cpgengine/internal/ident"
)

const sample = `defmodule Orders.Pricing do
  alias Orders.Discounts

  def total(cart, opts) do
    base = Orders.Discounts.apply(cart, opts)
    case base do
      {:ok, value} ->
        value
      {:error, reason} ->
        reason
    end
  end

  defp helper(x) do
    x
  end
end
`

func TestParseRecognizesModuleAndFunctions(t *testing.T) {
	mod, name, perr := New().Parse(context.Background(), []byte(sample), "pricing.ex")
	require.Nil(t, perr)
	assert.Equal(t, "Orders.Pricing", name)
	require.NotNil(t, mod)
	assert.Equal(t, astmodel.CKModule, mod.ConstructorKind)

	var fnCount int
	for _, c := range mod.Children {
		if c.ConstructorKind == astmodel.CKFunction {
			fnCount++
		}
	}
	assert.Equal(t, 2, fnCount)
}

func TestParsedModuleFeedsAnalyzer(t *testing.T) {
	mod, name, perr := New().Parse(context.Background(), []byte(sample), "pricing.ex")
	require.Nil(t, perr)

	mf, errs := analyzer.AnalyzeModule(mod, name, "pricing.ex", "h1", ident.Context{Strategy: "path"})
	require.Empty(t, errs)
	require.Len(t, mf.Functions, 2)
	assert.Equal(t, []string{"Orders.Discounts"}, mf.Aliases)

	var total analyzer.FunctionFacts
	for _, f := range mf.Functions {
		if f.Key.Name == "total" {
			total = f
		}
	}
	require.Equal(t, 2, total.Key.Arity)
	assert.NotEmpty(t, total.DirectCalls)
	assert.GreaterOrEqual(t, total.ComplexityPreliminary, 2)
}

func TestMissingDefmoduleIsParseError(t *testing.T) {
	_, _, perr := New().Parse(context.Background(), []byte("def f do\nend\n"), "bad.ex")
	require.NotNil(t, perr)
	assert.Equal(t, "parse_error", string(perr.Kind))
}
