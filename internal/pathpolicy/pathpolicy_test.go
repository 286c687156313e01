package pathpolicy

import (
	"testing"

	"github.com/batchismo/core/internal/model"
	"github.com/stretchr/testify/require"
)

func rule(path string, access model.Access, recursive bool) model.PolicyRule {
	return model.PolicyRule{Path: path, Access: access, Recursive: recursive}
}

func TestAllowRead(t *testing.T) {
	cases := []struct {
		name   string
		rules  []model.PolicyRule
		target string
		want   bool
	}{
		{"no rules denies", nil, "/work/a.txt", false},
		{"recursive read-only allows descendant", []model.PolicyRule{rule("/work", model.AccessReadOnly, true)}, "/work/a.txt", true},
		{"non-recursive denies descendant", []model.PolicyRule{rule("/work", model.AccessReadOnly, false)}, "/work/a.txt", false},
		{"non-recursive allows exact", []model.PolicyRule{rule("/work/a.txt", model.AccessReadOnly, false)}, "/work/a.txt", true},
		{"write-only denies read", []model.PolicyRule{rule("/work", model.AccessWriteOnly, true)}, "/work/a.txt", false},
		{"extended prefix stripped on target", []model.PolicyRule{rule("/work", model.AccessReadOnly, true)}, `\\?\/work/a.txt`, true},
		{"sibling path not matched", []model.PolicyRule{rule("/work", model.AccessReadOnly, true)}, "/workbench/a.txt", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := NewPolicy(c.rules)
			require.Equal(t, c.want, p.AllowRead(c.target))
		})
	}
}

func TestAllowWrite(t *testing.T) {
	p := NewPolicy([]model.PolicyRule{rule("/work", model.AccessReadOnly, true)})
	require.False(t, p.AllowWrite("/work/a.txt"))

	p = NewPolicy([]model.PolicyRule{rule("/work", model.AccessReadWrite, true)})
	require.True(t, p.AllowWrite("/work/a.txt"))
}

func TestNarrowNeverWidens(t *testing.T) {
	parent := NewPolicy([]model.PolicyRule{
		rule("/work", model.AccessReadWrite, true),
		rule("/tmp", model.AccessReadOnly, true),
	})
	// Worker asks for a rule the parent never granted; Narrow must drop it.
	widened := rule("/etc", model.AccessReadOnly, true)
	narrowed := parent.Narrow([]model.PolicyRule{
		rule("/work", model.AccessReadWrite, true),
		widened,
	})
	require.Len(t, narrowed.Rules(), 1)
	require.False(t, narrowed.AllowRead("/etc/passwd"))
	require.True(t, narrowed.AllowRead("/work/a.txt"))
}
