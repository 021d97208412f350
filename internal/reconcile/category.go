package reconcile

import (
	"regexp"
	"strings"

	"github.com/user/medprice/internal/domain"
)

// Classification is the outcome of one category decision.
type Classification struct {
	Category   domain.ProductCategory
	Confidence float64
	Reason     string
}

// reviewConfidence is the bound below which a classification is logged for
// review. It never blocks the write.
const reviewConfidence = 0.8

var (
	drugCodeRe   = regexp.MustCompile(`国药准字[HZSJB]\d{8}`)
	deviceCodeRe = regexp.MustCompile(`国械注[准进]\d*`)

	regulatoryCodeRes = []*regexp.Regexp{
		drugCodeRe,
		deviceCodeRe,
		regexp.MustCompile(`卫妆准字\d+`),
		regexp.MustCompile(`国妆特字\d+`),
		regexp.MustCompile(`国食健字G?\d+`),
		regexp.MustCompile(`卫食健字\d+`),
	}
)

// categoryRule is one entry of the ordered rule list; first match wins.
type categoryRule struct {
	match      func(name, manufacturer string) (string, bool)
	category   domain.ProductCategory
	confidence float64
	reason     string
}

func keywordRule(keywords []string, field func(name, mfr string) string) func(string, string) (string, bool) {
	return func(name, mfr string) (string, bool) {
		haystack := field(name, mfr)
		for _, kw := range keywords {
			if strings.Contains(haystack, kw) {
				return kw, true
			}
		}
		return "", false
	}
}

func nameField(name, _ string) string { return name }
func mfrField(_, mfr string) string   { return mfr }

var (
	cosmeticNameKeywords = []string{
		"珍珠霜", "珍珠膏", "面霜", "乳液", "精华液",
		"洗面奶", "面膜", "眼霜", "护肤水", "化妆水", "皇后牌",
	}
	deviceNameKeywords = []string{
		"血糖仪", "血压计", "体温计", "雾化器", "医用口罩",
		"外科口罩", "注射器", "输液器", "导尿管", "轮椅", "创可贴",
	}
	drugFormKeywords = []string{
		"片", "胶囊", "颗粒", "口服液", "注射液", "注射剂",
		"软膏", "乳膏", "贴剂", "滴眼液", "滴剂", "糖浆",
		"丸", "散", "膏药", "栓剂", "喷雾剂", "混悬剂",
	}
	healthNameKeywords = []string{
		"益生菌软糖", "蛋白粉", "鱼油", "保健食品", "营养品",
	}
	deviceSupplyKeywords = []string{
		"口罩", "手套", "纱布", "绷带", "拐杖",
	}
	vitaminFormKeywords = []string{"片", "胶囊", "滴剂", "口服液", "颗粒"}
)

var orderedRules = []categoryRule{
	{
		match: func(name, _ string) (string, bool) {
			n := strings.ToLower(name)
			if strings.Contains(n, "(rx)") || strings.Contains(n, "（rx）") {
				return "RX", true
			}
			if strings.Contains(n, "otc") {
				return "OTC", true
			}
			return "", false
		},
		category: domain.CategoryDrug, confidence: 1.0, reason: "prescription/OTC marker",
	},
	{
		match:    keywordRule([]string{"化妆品"}, mfrField),
		category: domain.CategoryCosmetic, confidence: 0.95, reason: "cosmetics manufacturer",
	},
	{
		match:    keywordRule([]string{"医疗器械"}, mfrField),
		category: domain.CategoryMedicalDevice, confidence: 0.95, reason: "device manufacturer",
	},
	{
		match:    keywordRule(cosmeticNameKeywords, nameField),
		category: domain.CategoryCosmetic, confidence: 0.9, reason: "cosmetic keyword",
	},
	{
		match:    keywordRule(deviceNameKeywords, nameField),
		category: domain.CategoryMedicalDevice, confidence: 0.9, reason: "device keyword",
	},
	{
		match:    keywordRule(drugFormKeywords, nameField),
		category: domain.CategoryDrug, confidence: 0.85, reason: "dosage form",
	},
	{
		match:    keywordRule(healthNameKeywords, nameField),
		category: domain.CategoryHealthProduct, confidence: 0.8, reason: "health product keyword",
	},
	{
		match: func(name, _ string) (string, bool) {
			if !strings.Contains(name, "维生素") {
				return "", false
			}
			for _, form := range vitaminFormKeywords {
				if strings.Contains(name, form) {
					return "维生素+" + form, true
				}
			}
			return "", false
		},
		category: domain.CategoryDrug, confidence: 0.75, reason: "vitamin with dosage form",
	},
	{
		match: func(name, _ string) (string, bool) {
			if strings.Contains(name, "维生素") {
				return "维生素", true
			}
			return "", false
		},
		category: domain.CategoryHealthProduct, confidence: 0.6, reason: "vitamin without dosage form",
	},
	{
		match:    keywordRule(deviceSupplyKeywords, nameField),
		category: domain.CategoryMedicalDevice, confidence: 0.7, reason: "medical supply keyword",
	},
}

// ClassifyRegulatoryCode maps a regulatory code onto a category. Codes are
// the most reliable signal and always win at confidence 1.0.
func ClassifyRegulatoryCode(code string) (Classification, bool) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if c == "" {
		return Classification{}, false
	}
	switch {
	case drugCodeRe.MatchString(c):
		return Classification{domain.CategoryDrug, 1.0, "regulatory code"}, true
	case deviceCodeRe.MatchString(c):
		return Classification{domain.CategoryMedicalDevice, 1.0, "regulatory code"}, true
	case strings.Contains(c, "妆"):
		return Classification{domain.CategoryCosmetic, 1.0, "regulatory code"}, true
	case strings.Contains(c, "食健"):
		return Classification{domain.CategoryHealthProduct, 1.0, "regulatory code"}, true
	}
	return Classification{}, false
}

// ExtractRegulatoryCode finds the first well-formed regulatory code inside
// free text, e.g. a product detail blob.
func ExtractRegulatoryCode(text string) string {
	for _, re := range regulatoryCodeRes {
		if m := re.FindString(text); m != "" {
			return m
		}
	}
	return ""
}

// Classify walks the ordered rule list, highest priority first; the first
// matching rule wins. Falls back to drug at low confidence.
func Classify(name, manufacturer, regulatoryCode string) Classification {
	if c, ok := ClassifyRegulatoryCode(regulatoryCode); ok {
		return c
	}
	lowerName := strings.ToLower(name)
	lowerMfr := strings.ToLower(manufacturer)
	for _, rule := range orderedRules {
		if hit, ok := rule.match(lowerName, lowerMfr); ok {
			return Classification{
				Category:   rule.category,
				Confidence: rule.confidence,
				Reason:     rule.reason + ": " + hit,
			}
		}
	}
	return Classification{domain.CategoryDrug, 0.5, "default"}
}
