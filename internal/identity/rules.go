package identity

// RuleTables holds the static normalization heuristics the resolver consults.
// They are versioned so a data fix can be told apart from a code change.
type RuleTables struct {
	Version string

	// BrandPrefixes are known brand/trade name prefixes, matched
	// longest-first against the start of a normalized name.
	BrandPrefixes []string

	// Aliases maps a generic name to its known brand/trade aliases.
	Aliases map[string][]string

	// UnitSynonyms maps a canonical unit spelling to its variants,
	// including transliterations.
	UnitSynonyms map[string][]string

	// DosageForms are known dosage-form suffixes, ordered longest-first so
	// a longer form ("肠溶胶囊") wins over a contained one ("胶囊").
	DosageForms []string

	// PromoPrefixes are marketing prefixes stripped from raw names before
	// identity resolution.
	PromoPrefixes []string
}

// DefaultRules returns the built-in rule tables.
func DefaultRules() *RuleTables {
	return &RuleTables{
		Version: "2024-06",
		BrandPrefixes: []string{
			"999", "三九", "同仁堂", "云南白药", "修正", "哈药", "华润",
			"太极", "康恩贝", "白云山", "仁和", "葵花", "江中", "东阿",
			"片仔癀", "马应龙", "以岭", "步长", "天士力", "扬子江",
		},
		Aliases: map[string][]string{
			"阿莫西林":   {"阿莫仙", "阿莫灵", "弗莱莫星", "再林"},
			"布洛芬":    {"芬必得", "美林", "恬倩", "托恩"},
			"对乙酰氨基酚": {"扑热息痛", "泰诺林", "必理通", "百服宁"},
			"头孢克洛":   {"希刻劳", "可福乐", "头孢克洛干混悬剂"},
			"头孢氨苄":   {"先锋霉素IV", "头孢力新"},
			"氯雷他定":   {"开瑞坦", "克敏能", "百为坦"},
			"西替利嗪":   {"仙特明", "西可韦", "斯特林"},
			"奥美拉唑":   {"洛赛克", "奥克", "奥美"},
			"阿奇霉素":   {"希舒美", "泰力特", "维宏"},
			"左氧氟沙星":  {"可乐必妥", "利复星", "来立信"},
			"甲硝唑":    {"灭滴灵", "甲硝唑片"},
			"维生素C":   {"维C", "VC", "抗坏血酸"},
			"维生素B":   {"维B", "VB", "复合维生素B"},
			"葡萄糖":    {"右旋糖", "Glucose"},
			"氯化钠":    {"生理盐水", "盐水"},
		},
		UnitSynonyms: map[string][]string{
			"mg": {"毫克", "MG", "milligram", "milligrams"},
			"g":  {"克", "G", "gram", "grams"},
			"kg": {"千克", "KG", "kilogram", "kilograms"},
			"μg": {"微克", "ug", "UG", "mcg", "MCG"},
			"ml": {"毫升", "ML", "mL", "milliliter", "milliliters"},
			"L":  {"升", "liter", "liters"},
			"片":  {"片剂", "tablet", "tablets"},
			"粒":  {"颗"},
			"袋":  {"包", "sachet"},
			"支":  {"枝", "ampoule"},
			"瓶":  {"bottle", "bottles"},
			"盒":  {"box", "boxes"},
		},
		DosageForms: []string{
			"肠溶胶囊", "缓释胶囊", "软胶囊", "胶囊",
			"缓释片", "分散片", "咀嚼片", "泡腾片", "肠溶片", "片",
			"颗粒", "冲剂", "散",
			"口服液", "口服溶液", "糖浆", "合剂", "酊",
			"注射液", "注射用", "粉针",
			"滴丸", "丸", "丹",
			"乳膏", "软膏", "凝胶", "霜", "膏",
			"栓", "贴剂", "贴膏", "贴",
			"喷雾剂", "气雾剂", "吸入剂",
			"滴眼液", "眼膏", "滴耳液",
			"溶液", "洗剂", "搽剂",
		},
		PromoPrefixes: []string{
			"特价", "限时", "秒杀", "促销", "热卖", "爆款", "新品", "推荐",
		},
	}
}
