package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hookrelay/internal/hook"
)

func TestHookSpecsProvider(t *testing.T) {
	cfg := &Config{Hooks: []HookConf{
		{Name: "collect_report", Args: []string{"path", "legacy"}, WarnOnImpl: "old hook", WarnOnImplArgs: map[string]string{"legacy": "old arg"}},
		{Name: "pick", Args: []string{"x"}, FirstResult: true},
		{Name: "configure", Historic: true},
	}}

	table := cfg.HookSpecs(hook.NewSpecMarker("proj"))
	var provider hook.SpecProvider = table
	decls := provider.HookSpecs()
	require.Len(t, decls, 3)
	assert.Equal(t, 3, table.Len())

	assert.Equal(t, "proj", decls[0].Project())
	assert.Equal(t, []string{"path", "legacy"}, decls[0].Params.Args)
	require.NotNil(t, decls[0].Opts.WarnOnImpl)
	assert.Equal(t, "old hook", decls[0].Opts.WarnOnImpl.Message)
	assert.Equal(t, "old arg", decls[0].Opts.WarnOnImplArgs["legacy"].Message)

	assert.True(t, decls[1].Opts.FirstResult)
	assert.True(t, decls[2].Opts.Historic)
	assert.Empty(t, decls[2].Params.Args)

	for _, d := range decls {
		_, err := hook.NewSpec(table, d)
		assert.NoError(t, err)
	}
}
