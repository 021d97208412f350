package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	return NewResolver(DefaultRules())
}

func TestNormalize(t *testing.T) {
	r := newTestResolver(t)

	assert.Equal(t, "三九感冒灵颗粒", r.Normalize("  三九感冒灵颗粒  "))
	// Full-width digits and letters become half-width.
	assert.Equal(t, "0.3g", r.Normalize("０.３ｇ"))
	// Interior whitespace collapses to a single space.
	assert.Equal(t, "布洛芬 缓释胶囊", r.Normalize("布洛芬   缓释胶囊"))
	// Characters outside the whitelist are dropped.
	assert.Equal(t, "阿莫西林胶囊", r.Normalize("阿莫西林胶囊!@#"))
	assert.Equal(t, "", r.Normalize(""))
}

func TestCleanRawName(t *testing.T) {
	r := newTestResolver(t)

	assert.Equal(t, "三九感冒灵颗粒", r.CleanRawName("1盒包邮 三九感冒灵颗粒"))
	assert.Equal(t, "阿莫西林胶囊", r.CleanRawName("3免邮 阿莫西林胶囊"))
	assert.Equal(t, "阿莫西林胶囊", r.CleanRawName("[热销] 阿莫西林胶囊"))
	assert.Equal(t, "阿莫西林胶囊", r.CleanRawName("特价阿莫西林胶囊"))
	// A plain name passes through untouched.
	assert.Equal(t, "阿莫西林胶囊", r.CleanRawName("阿莫西林胶囊"))
}

func TestExtractGeneric(t *testing.T) {
	r := newTestResolver(t)

	generic, brand := r.ExtractGeneric("三九感冒灵颗粒")
	assert.Equal(t, "感冒灵颗粒", generic)
	assert.Equal(t, "三九", brand)

	generic, brand = r.ExtractGeneric("999感冒灵颗粒")
	assert.Equal(t, "感冒灵颗粒", generic)
	assert.Equal(t, "999", brand)

	// No known brand prefix: whole name is the generic.
	generic, brand = r.ExtractGeneric("阿莫西林胶囊")
	assert.Equal(t, "阿莫西林胶囊", generic)
	assert.Equal(t, "", brand)
}

func TestCommonName(t *testing.T) {
	r := newTestResolver(t)

	// Dosage form anchors the extraction, digits before the name are cut.
	assert.Equal(t, "感冒灵颗粒", r.CommonName("999感冒灵颗粒(10袋)"))
	assert.Equal(t, "三九感冒灵颗粒", r.CommonName("三九感冒灵颗粒"))
	// No dosage form: fall back to the longest ideograph run.
	assert.Equal(t, "鱼跃血糖仪", r.CommonName("鱼跃血糖仪580型"))
	// Nothing to anchor on: input comes back unchanged.
	assert.Equal(t, "abc123", r.CommonName("abc123"))
}

func TestNormalizeSpec(t *testing.T) {
	r := newTestResolver(t)

	assert.Equal(t, "0.3g*12片", r.NormalizeSpec("0.3g×12片"))
	assert.Equal(t, "250mg*24粒", r.NormalizeSpec("250毫克x24粒"))
	assert.Equal(t, "100ml", r.NormalizeSpec("100毫升"))
	assert.Equal(t, "10g*6袋", r.NormalizeSpec(" 10g * 6包 "))
	assert.Equal(t, "", r.NormalizeSpec(""))
}

func TestIdentityKeys(t *testing.T) {
	r := newTestResolver(t)

	full := r.FullKey("阿莫西林胶囊", "0.25g×24粒", "华北制药")
	require.Len(t, full, 16)
	simple := r.SimpleKey("阿莫西林胶囊", "0.25g×24粒")
	require.Len(t, simple, 12)

	// Deterministic across calls (second call hits the cache).
	assert.Equal(t, full, r.FullKey("阿莫西林胶囊", "0.25g×24粒", "华北制药"))
	assert.Equal(t, simple, r.SimpleKey("阿莫西林胶囊", "0.25g×24粒"))

	// Spec formatting variants collapse to one key.
	assert.Equal(t, full, r.FullKey("阿莫西林胶囊", "0.25g*24粒", "华北制药"))

	// Manufacturer participates in the full key only.
	other := r.FullKey("阿莫西林胶囊", "0.25g×24粒", "石药集团")
	assert.NotEqual(t, full, other)
	assert.Equal(t, simple, r.SimpleKey("阿莫西林胶囊", "0.25g*24粒"))
}

func TestResolveGeneric(t *testing.T) {
	r := newTestResolver(t)

	assert.Equal(t, "布洛芬", r.ResolveGeneric("芬必得"))
	assert.Equal(t, "布洛芬", r.ResolveGeneric("芬必得胶囊"))
	assert.Equal(t, "对乙酰氨基酚", r.ResolveGeneric("扑热息痛"))
	// Unknown names resolve to their own generic form.
	assert.Equal(t, "感冒灵颗粒", r.ResolveGeneric("三九感冒灵颗粒"))
}

func TestSimilarity(t *testing.T) {
	r := newTestResolver(t)

	assert.InDelta(t, 1.0, r.Similarity("阿莫西林", "阿莫西林"), 1e-9)
	assert.Equal(t, 0.0, r.Similarity("", "阿莫西林"))
	assert.Greater(t, r.Similarity("阿莫西林胶囊", "阿莫西林分散片"), 0.3)

	assert.True(t, r.PossiblySame("芬必得", "布洛芬"))
	assert.False(t, r.PossiblySame("阿莫西林", "氯化钠"))
}
