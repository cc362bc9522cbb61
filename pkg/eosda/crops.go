package eosda

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// The provider accepts a closed set of English crop names. Local Spanish
// names collapse onto it case- and accent-insensitively; anything else
// becomes "Other". Registration never fails for naming alone.
const CropOther = "Other"

var providerCrops = []string{
	"Coffee", "Corn", "Rice", "Cocoa", "Plantain", "Bananas", "Oil palm",
	"Rubber", "Cassava", "Potatoes", "Vegetables", "Fruit", "Citrus",
	"Sugarcane", "Soybeans", "Cotton", "Wheat", "Oats", "Sorghum", "Beans",
	"Sunflower", "Grapes", "Apple", "Pasture", CropOther,
}

// cropAliases maps folded local names to provider names. Keys must already
// be lowercase and accent-free.
var cropAliases = map[string]string{
	"cafe":            "Coffee",
	"cafetal":         "Coffee",
	"maiz":            "Corn",
	"arroz":           "Rice",
	"cacao":           "Cocoa",
	"platano":         "Plantain",
	"banano":          "Bananas",
	"banana":          "Bananas",
	"palma":           "Oil palm",
	"palma de aceite": "Oil palm",
	"palma africana":  "Oil palm",
	"caucho":          "Rubber",
	"yuca":            "Cassava",
	"papa":            "Potatoes",
	"patata":          "Potatoes",
	"hortalizas":      "Vegetables",
	"verduras":        "Vegetables",
	"frutales":        "Fruit",
	"fruta":           "Fruit",
	"citricos":        "Citrus",
	"naranja":         "Citrus",
	"limon":           "Citrus",
	"cana":            "Sugarcane",
	"cana de azucar":  "Sugarcane",
	"soya":            "Soybeans",
	"soja":            "Soybeans",
	"algodon":         "Cotton",
	"trigo":           "Wheat",
	"avena":           "Oats",
	"sorgo":           "Sorghum",
	"frijol":          "Beans",
	"frijoles":        "Beans",
	"girasol":         "Sunflower",
	"uva":             "Grapes",
	"uvas":            "Grapes",
	"vid":             "Grapes",
	"manzana":         "Apple",
	"pasto":           "Pasture",
	"pastura":         "Pasture",
	"pastos":          "Pasture",
	"otro":            CropOther,
	"otros":           CropOther,
}

var foldedProviderCrops = func() map[string]string {
	m := make(map[string]string, len(providerCrops))
	for _, c := range providerCrops {
		m[foldCrop(c)] = c
	}
	return m
}()

// CanonicalCrop translates a local crop name to the provider's closed set.
func CanonicalCrop(local string) string {
	folded := foldCrop(local)
	if folded == "" {
		return CropOther
	}
	if c, ok := foldedProviderCrops[folded]; ok {
		return c
	}
	if c, ok := cropAliases[folded]; ok {
		return c
	}
	return CropOther
}

var accentStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

func foldCrop(s string) string {
	stripped, _, err := transform.String(accentStripper, s)
	if err != nil {
		stripped = s
	}
	return strings.Join(strings.Fields(strings.ToLower(stripped)), " ")
}
