package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/medprice/internal/domain"
)

func TestClassifyRegulatoryCode(t *testing.T) {
	cases := []struct {
		code string
		want domain.ProductCategory
	}{
		{"国药准字H20123456", domain.CategoryDrug},
		{"国药准字Z20050051", domain.CategoryDrug},
		{"国械注准20162200158", domain.CategoryMedicalDevice},
		{"卫妆准字29-XK-1234", domain.CategoryCosmetic},
		{"国食健字G20040001", domain.CategoryHealthProduct},
	}
	for _, tc := range cases {
		c, ok := ClassifyRegulatoryCode(tc.code)
		require.True(t, ok, tc.code)
		assert.Equal(t, tc.want, c.Category, tc.code)
		assert.Equal(t, 1.0, c.Confidence, tc.code)
	}

	_, ok := ClassifyRegulatoryCode("")
	assert.False(t, ok)
	_, ok = ClassifyRegulatoryCode("ABC123")
	assert.False(t, ok)
}

func TestExtractRegulatoryCode(t *testing.T) {
	assert.Equal(t, "国药准字H20123456",
		ExtractRegulatoryCode("阿莫西林胶囊 国药准字H20123456 0.25g"))
	assert.Equal(t, "", ExtractRegulatoryCode("阿莫西林胶囊 0.25g"))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name         string
		manufacturer string
		regCode      string
		want         domain.ProductCategory
		confidence   float64
	}{
		// Regulatory code beats everything.
		{"某某珍珠霜", "", "国药准字H20123456", domain.CategoryDrug, 1.0},
		// Prescription marker.
		{"阿莫西林(RX)", "", "", domain.CategoryDrug, 1.0},
		// Manufacturer keyword.
		{"美白精华", "广州化妆品有限公司", "", domain.CategoryCosmetic, 0.95},
		{"某某产品", "某某医疗器械有限公司", "", domain.CategoryMedicalDevice, 0.95},
		// Name keywords.
		{"皇后牌珍珠膏", "", "", domain.CategoryCosmetic, 0.9},
		{"鱼跃血糖仪", "", "", domain.CategoryMedicalDevice, 0.9},
		// Dosage form implies a drug.
		{"感冒灵颗粒", "", "", domain.CategoryDrug, 0.85},
		{"阿莫西林胶囊", "", "", domain.CategoryDrug, 0.85},
		// Health products.
		{"乳清蛋白粉", "", "", domain.CategoryHealthProduct, 0.8},
		// Vitamins: dosage form decides drug vs health product.
		{"维生素C咀嚼片", "", "", domain.CategoryDrug, 0.85},
		{"维生素C粉末", "", "", domain.CategoryHealthProduct, 0.6},
		// Generic medical supplies.
		{"一次性无菌纱布", "", "", domain.CategoryMedicalDevice, 0.7},
		// Fallback.
		{"神秘商品", "", "", domain.CategoryDrug, 0.5},
	}
	for _, tc := range cases {
		c := Classify(tc.name, tc.manufacturer, tc.regCode)
		assert.Equal(t, tc.want, c.Category, tc.name)
		assert.InDelta(t, tc.confidence, c.Confidence, 1e-9, tc.name)
	}
}
