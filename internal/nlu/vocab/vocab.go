// Package vocab holds the controlled vocabularies used to recognise brands,
// categories and attributes in shopping utterances.
package vocab

import "voicemart/internal/models"

// Brands are canonical brand names. Multi-word brands are matched as token runs.
var Brands = []string{
	"nike", "adidas", "puma", "reebok", "new balance", "under armour", "converse",
	"vans", "asics", "skechers", "bata", "samsung", "apple", "sony", "dell", "hp",
	"lenovo", "asus", "acer", "msi", "xiaomi", "huawei", "oneplus", "google", "lg",
	"bose", "jbl", "beats", "levis", "zara", "uniqlo", "casio", "fossil", "rolex",
	"milo", "nestle", "coke", "pepsi", "sprite", "fanta", "red bull", "nescafe",
	"anchor", "maliban", "munchee", "elephant house", "louis vuitton", "gucci",
}

// Categories maps a category to the words that name it.
var Categories = map[string][]string{
	"shoes":      {"shoe", "shoes", "sneaker", "sneakers", "boot", "boots", "sandal", "sandals", "trainers", "heels", "slippers", "footwear", "සපත්තු", "காலணி"},
	"laptops":    {"laptop", "laptops", "notebook", "notebooks", "macbook", "ultrabook", "chromebook"},
	"phones":     {"phone", "phones", "smartphone", "smartphones", "mobile", "iphone", "galaxy", "ෆෝන්"},
	"tshirts":    {"t-shirt", "t-shirts", "tshirt", "tshirts", "tee", "tees", "shirt", "shirts"},
	"beverages":  {"drink", "drinks", "soda", "cola", "juice", "tea", "coffee", "beverage", "beverages", "milo", "coke", "pepsi", "water"},
	"headphones": {"headphone", "headphones", "earbuds", "earphones", "headset", "headsets"},
	"watches":    {"watch", "watches", "smartwatch", "smartwatches"},
	"bags":       {"bag", "bags", "backpack", "backpacks", "handbag", "handbags"},
	"tvs":        {"tv", "tvs", "television", "televisions"},
}

// Colors maps spoken colour words to a canonical value.
var Colors = map[string]string{
	"red": "red", "blue": "blue", "green": "green", "black": "black", "white": "white",
	"yellow": "yellow", "pink": "pink", "purple": "purple", "orange": "orange",
	"grey": "grey", "gray": "grey", "brown": "brown", "silver": "silver", "gold": "gold",
	"navy": "navy", "beige": "beige", "maroon": "maroon",
}

// SizeWords are sizes that stand on their own. Single letters only count after "size".
var SizeWords = map[string]string{
	"xxs": "xxs", "xs": "xs", "xl": "xl", "xxl": "xxl", "xxxl": "xxxl",
	"small": "s", "medium": "m", "large": "l",
}

// LengthUnits turn a preceding number into a size ("15 inch").
var LengthUnits = map[string]string{
	"cm": "cm", "mm": "mm", "inch": "inch", "inches": "inch",
}

// QuantityUnits turn a preceding number into a quantity ("2 packs").
var QuantityUnits = map[string]string{
	"pack": "pack", "packs": "pack", "piece": "piece", "pieces": "piece", "pcs": "piece",
	"bottle": "bottle", "bottles": "bottle", "can": "can", "cans": "can",
	"box": "box", "boxes": "box", "unit": "unit", "units": "unit", "item": "item", "items": "item",
	"kg": "kg", "g": "g", "grams": "g", "lb": "lb", "lbs": "lb",
	"ml": "ml", "l": "l", "litre": "l", "litres": "l", "liter": "l", "liters": "l",
	"pair": "pair", "pairs": "pair",
}

// CurrencyWords maps spoken currency names and symbols to ISO codes.
var CurrencyWords = map[string]string{
	"$": "USD", "dollar": "USD", "dollars": "USD", "usd": "USD", "bucks": "USD",
	"₹": "INR", "inr": "INR",
	"rupee": "LKR", "rupees": "LKR", "rs": "LKR", "lkr": "LKR", "රුපියල්": "LKR",
	"€": "EUR", "euro": "EUR", "euros": "EUR", "eur": "EUR",
	"£": "GBP", "pound": "GBP", "pounds": "GBP", "gbp": "GBP", "quid": "GBP",
}

// CurrencySymbols are split into tokens of their own by the normalizer.
var CurrencySymbols = map[rune]bool{'$': true, '£': true, '€': true, '₹': true}

// PriceMaxCues and PriceMinCues introduce a price bound.
var PriceMaxCues = [][]string{
	{"under"}, {"below"}, {"less", "than"}, {"cheaper", "than"}, {"max"}, {"maximum"},
	{"up", "to"}, {"upto"}, {"within"}, {"not", "more", "than"}, {"at", "most"},
}

var PriceMinCues = [][]string{
	{"over"}, {"above"}, {"more", "than"}, {"at", "least"}, {"min"}, {"minimum"},
	{"starting", "at"}, {"starting", "from"},
}

// AddVerbs precede a bare quantity ("add 2 milo").
var AddVerbs = map[string]bool{"add": true, "buy": true, "put": true, "order": true, "purchase": true, "get": true}

// Cue is a weighted phrase that signals an intent.
type Cue struct {
	Phrase string
	Intent models.Intent
	Weight float64
}

// IntentCues is matched as whole words against the normalized text.
var IntentCues = []Cue{
	{"add", models.IntentAddToCart, 1.0},
	{"buy", models.IntentAddToCart, 0.9},
	{"purchase", models.IntentAddToCart, 0.9},
	{"order", models.IntentAddToCart, 0.7},
	{"put", models.IntentAddToCart, 0.6},
	{"to cart", models.IntentAddToCart, 0.8},
	{"to my cart", models.IntentAddToCart, 0.9},
	{"in my cart", models.IntentAddToCart, 0.8},
	{"to the cart", models.IntentAddToCart, 0.8},

	{"compare", models.IntentCompare, 1.0},
	{"comparison", models.IntentCompare, 0.9},
	{"versus", models.IntentCompare, 0.9},
	{"vs", models.IntentCompare, 0.9},
	{"difference between", models.IntentCompare, 0.9},
	{"which is better", models.IntentCompare, 0.8},
	{"which is cheaper", models.IntentCompare, 0.8},

	{"filter", models.IntentFilter, 1.0},
	{"only show", models.IntentFilter, 0.9},
	{"show only", models.IntentFilter, 0.9},
	{"just show", models.IntentFilter, 0.8},
	{"narrow", models.IntentFilter, 0.8},
	{"sort by", models.IntentFilter, 0.8},
	{"only the", models.IntentFilter, 0.7},
	{"cheaper ones", models.IntentFilter, 0.7},

	{"find", models.IntentSearch, 1.0},
	{"search", models.IntentSearch, 1.0},
	{"search for", models.IntentSearch, 1.0},
	{"look for", models.IntentSearch, 0.9},
	{"looking for", models.IntentSearch, 0.9},
	{"show", models.IntentSearch, 0.8},
	{"show me", models.IntentSearch, 0.8},
	{"get me", models.IntentSearch, 0.7},
	{"i want", models.IntentSearch, 0.7},
	{"i need", models.IntentSearch, 0.7},
	{"where can i", models.IntentSearch, 0.6},
	{"පෙන්වන්න", models.IntentSearch, 0.8},
	{"හොයන්න", models.IntentSearch, 0.9},
	{"காட்டு", models.IntentSearch, 0.8},
	{"தேடு", models.IntentSearch, 0.9},
}

// IntentPriority breaks ties between intents with equal cue weight.
var IntentPriority = map[models.Intent]int{
	models.IntentAddToCart: 4,
	models.IntentCompare:   3,
	models.IntentFilter:    2,
	models.IntentSearch:    1,
}

// Stopwords never become product or residual text.
var Stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "me": true, "my": true, "i": true, "some": true,
	"for": true, "of": true, "to": true, "please": true, "can": true, "could": true,
	"you": true, "is": true, "are": true, "with": true, "in": true, "on": true,
	"and": true, "or": true, "that": true, "this": true, "it": true, "any": true,
	"all": true, "which": true, "what": true, "do": true, "have": true, "cart": true,
	"basket": true, "ones": true, "one": true, "size": true, "price": true, "priced": true,
	"cost": true, "costs": true, "than": true, "by": true, "from": true, "between": true,
	"want": true, "need": true, "like": true, "would": true, "hey": true, "hi": true,
	"hello": true, "also": true, "just": true, "only": true, "about": true, "around": true,
	"at": true, "be": true, "should": true, "into": true, "color": true, "colour": true,
	"මට": true, "එක": true, "எனக்கு": true,
}
