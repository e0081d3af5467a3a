package store

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dataTemplate = "{center}/{norm}/{date}/{hour}/{kind}.{center}.{norm}.{date}{hour}.csv"

func testResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver(map[string]string{
		"bulk":     dataTemplate,
		"artifact": "{hash}/{name}",
	})
	require.NoError(t, err)
	return r
}

func bulkDescriptor(center, date, hour string) Descriptor {
	return Descriptor{Kind: "bulk", Fields: map[string]string{
		"center": center, "norm": "dry", "date": date, "hour": hour, "kind": "bulk",
	}}
}

func TestResolverKey(t *testing.T) {
	r := testResolver(t)

	key, err := r.Key(bulkDescriptor("GMAO", "20200101", "06"))
	require.NoError(t, err)
	assert.Equal(t, "GMAO/dry/20200101/06/bulk.GMAO.dry.2020010106.csv", key)
}

func TestResolverFailsClosed(t *testing.T) {
	r := testResolver(t)

	cases := map[string]Descriptor{
		"unknown kind":  {Kind: "nope", Fields: map[string]string{}},
		"missing field": {Kind: "artifact", Fields: map[string]string{"hash": "abc"}},
		"traversal":     {Kind: "artifact", Fields: map[string]string{"hash": "..", "name": "x"}},
		"slash":         {Kind: "artifact", Fields: map[string]string{"hash": "abc", "name": "../../etc/passwd"}},
		"nil fields":    {Kind: "artifact"},
	}
	for name, d := range cases {
		_, err := r.Key(d)
		assert.True(t, errors.Is(err, ErrInvalidDescriptor), name)
	}
}

func TestResolverRejectsBadTemplates(t *testing.T) {
	for _, tmpl := range []string{"{center", "center}", "{a/b}", "x}{y"} {
		_, err := NewResolver(map[string]string{"k": tmpl})
		assert.Error(t, err, tmpl)
	}
}

func TestResolverPrefix(t *testing.T) {
	r := testResolver(t)

	prefix, err := r.Prefix(Filter{Kind: "bulk", Fields: map[string]string{"center": "NRL", "norm": "dry"}})
	require.NoError(t, err)
	assert.Equal(t, "NRL/dry/", prefix)

	prefix, err = r.Prefix(Filter{Kind: "bulk"})
	require.NoError(t, err)
	assert.Equal(t, "", prefix)
}

func TestResolverParse(t *testing.T) {
	r := testResolver(t)
	d := bulkDescriptor("JMA_adj", "20200229", "18")

	key, err := r.Key(d)
	require.NoError(t, err)

	parsed, ok := r.Parse("bulk", key)
	require.True(t, ok)
	assert.Equal(t, d, parsed)

	_, ok = r.Parse("bulk", "JMA_adj/dry/20200229/18/bulk.NRL.dry.2020022918.csv")
	assert.False(t, ok, "repeated fields must agree")
	_, ok = r.Parse("bulk", "something/else.csv")
	assert.False(t, ok)
}

func TestFilterMatches(t *testing.T) {
	d := bulkDescriptor("GMAO", "20200101", "00")
	assert.True(t, Filter{Kind: "bulk", Fields: map[string]string{"center": "GMAO"}}.Matches(d))
	assert.False(t, Filter{Kind: "bulk", Fields: map[string]string{"center": "NRL"}}.Matches(d))
	assert.False(t, Filter{Kind: "raw"}.Matches(d))
}
