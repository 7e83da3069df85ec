package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("MARGIN_DATA", "/srv/exports")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "home", in: "~", want: home},
		{name: "under home", in: "~/reports/out.json", want: filepath.Join(home, "reports", "out.json")},
		{name: "env var", in: "$MARGIN_DATA/orders.csv", want: "/srv/exports/orders.csv"},
		{name: "tilde mid path", in: "a/~/b", want: "a/~/b"},
		{name: "plain", in: "orders.csv", want: "orders.csv"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandPath(tt.in))
		})
	}
}

func TestDefaultConfigDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir, err := DefaultConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "margin"), dir)
}
