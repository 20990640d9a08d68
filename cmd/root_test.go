package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/fieldpin/internal/buildinfo"
	"github.com/tphakala/fieldpin/internal/conf"
)

func TestRootCommandSubcommands(t *testing.T) {
	root := RootCommand(&conf.Settings{}, &buildinfo.Info{Version: "v1.2.3"}, func(func()) {})

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "annotations", "procedures", "blob", "session", "notify", "sync"} {
		assert.Contains(t, names, want)
	}
	assert.Contains(t, root.Version, "v1.2.3")
}

func TestAnnotationsCreateRequiresPosition(t *testing.T) {
	root := RootCommand(&conf.Settings{}, nil, func(func()) {})
	root.PersistentPreRunE = nil
	root.SetArgs([]string{"annotations", "create", "pump-a", "check seal", "--position", "1,2"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "three values")
}
