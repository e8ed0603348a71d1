package main

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imerljak/flow-craft-sub001/pkg/api"
)

func resetRunViper(t *testing.T) {
	t.Helper()
	keys := []string{"run.listen", "run.admin-listen", "run.bridge-socket", "run.rules-file", "run.watch", "run.devtools-url"}
	for _, k := range keys {
		viper.Set(k, nil)
	}
	t.Cleanup(func() {
		for _, k := range keys {
			viper.Set(k, nil)
		}
	})
}

func TestApplyRunFlagsOverridesConfig(t *testing.T) {
	resetRunViper(t)
	viper.Set("run.listen", "127.0.0.1:9999")
	viper.Set("run.rules-file", "rules.json")
	viper.Set("run.watch", true)
	viper.Set("run.devtools-url", "http://127.0.0.1:9222")

	cfg := api.DefaultConfig()
	applyRunFlags(runCmd, cfg)

	assert.Equal(t, "127.0.0.1:9999", cfg.Proxy.Listen)
	require.NotNil(t, cfg.Rules)
	assert.Equal(t, "rules.json", cfg.Rules.File)
	assert.True(t, cfg.Rules.Watch)
	require.NotNil(t, cfg.DevTools)
	assert.Equal(t, "http://127.0.0.1:9222", cfg.DevTools.URL)
}

func TestApplyRunFlagsFillsMissingSections(t *testing.T) {
	resetRunViper(t)

	cfg := &api.Config{}
	applyRunFlags(runCmd, cfg)

	require.NotNil(t, cfg.Proxy)
	require.NotNil(t, cfg.Bridge)
	require.NotNil(t, cfg.Admin)
	require.NotNil(t, cfg.Log)
	assert.True(t, cfg.Proxy.MITM)
	assert.Equal(t, api.DefaultProxyListen, cfg.Proxy.GetListen())
}
