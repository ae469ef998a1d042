package ident

// Word lists behind the random run-name and deterministic dataset-name
// generators. The dataset lists feed a digest-to-name mapping that must stay
// stable across releases; do not reorder or edit entries.

var namePredicates = []string{
	"abundant", "able", "abrasive", "adorable", "adaptable", "adventurous", "aged", "agreeable",
	"ambitious", "amazing", "amusing", "angry", "auspicious", "awesome", "bald", "beautiful",
	"bemused", "bedecked", "big", "bittersweet", "blushing", "bold", "bouncy", "brawny",
	"bright", "burly", "bustling", "calm", "capable", "carefree", "capricious", "caring",
	"casual", "charming", "chill", "classy", "clean", "clumsy", "colorful", "crawling",
	"dapper", "debonair", "dashing", "defiant", "delicate", "delightful", "dazzling", "efficient",
	"enchanting", "entertaining", "enthused", "exultant", "fearless", "flawless", "fortunate", "fun",
	"funny", "gaudy", "gentle", "gifted", "glamorous", "grandiose", "gregarious", "handsome",
	"hilarious", "honorable", "illustrious", "incongruous", "indecisive", "industrious", "intelligent", "inquisitive",
	"intrigued", "invincible", "judicious", "kindly", "languid", "learned", "legendary", "likeable",
	"loud", "luminous", "luxuriant", "lyrical", "magnificent", "marvelous", "masked", "melodic",
	"merciful", "mercurial", "monumental", "mysterious", "nebulous", "nervous", "nimble", "nosy",
	"omniscient", "orderly", "overjoyed", "peaceful", "painted", "persistent", "placid", "polite",
	"popular", "powerful", "puzzled", "rambunctious", "rare", "rebellious", "respected", "resilient",
	"righteous", "receptive", "redolent", "resilient", "rogue", "rumbling", "salty", "sassy",
	"secretive", "selective", "sedate", "serious", "shivering", "skillful", "sincere", "skittish",
	"silent", "smiling", "sneaky", "sophisticated", "spiffy", "stately", "suave", "stylish",
	"tasteful", "thoughtful", "thundering", "traveling", "treasured", "trusting", "unequaled", "upset",
	"unique", "unleashed", "useful", "upbeat", "unruly", "valuable", "vaunted", "victorious",
	"welcoming", "whimsical", "wistful", "wise", "worried", "youthful", "zealous",
}

var nameNouns = []string{
	"ant", "ape", "asp", "auk", "bass", "bat", "bear", "bee",
	"bird", "boar", "bug", "calf", "carp", "cat", "chimp", "cod",
	"colt", "conch", "cow", "crab", "crane", "croc", "crow", "cub",
	"deer", "doe", "dog", "dolphin", "donkey", "dove", "duck", "eel",
	"elk", "fawn", "finch", "fish", "flea", "fly", "foal", "fowl",
	"fox", "frog", "gnat", "gnu", "goat", "goose", "grouse", "grub",
	"gull", "hare", "hawk", "hen", "hog", "horse", "hound", "jay",
	"kit", "kite", "koi", "lamb", "lark", "loon", "lynx", "mare",
	"midge", "mink", "mole", "moose", "moth", "mouse", "mule", "newt",
	"owl", "ox", "panda", "penguin", "perch", "pig", "pug", "quail",
	"ram", "rat", "ray", "robin", "roo", "rook", "seal", "shad",
	"shark", "sheep", "shoat", "shrew", "shrike", "shrimp", "skink", "skunk",
	"sloth", "slug", "smelt", "snail", "snake", "snipe", "sow", "sponge",
	"squid", "squirrel", "stag", "steed", "stoat", "stork", "swan", "tern",
	"toad", "trout", "turtle", "vole", "wasp", "whale", "wolf", "worm",
	"wren", "yak", "zebra",
}

var datasetPredicates = []string{
	"acute", "adept", "admired", "adroit", "aerial", "agile", "amazing", "amiable",
	"ample", "angelic", "animated", "apt", "artful", "assured", "astute", "atomic",
	"avid", "awesome", "beaming", "blazing", "blissful", "bold", "brainy", "brave",
	"breezy", "bright", "brisk", "buoyant", "candid", "canny", "charming", "cheerful",
	"cheery", "chipper", "clever", "cozy", "creative", "crisp", "curious", "daring",
	"dashing", "dazzled", "dazzling", "decisive", "devoted", "diligent", "distinct", "diverse",
	"divine", "driven", "durable", "dynamic", "earnest", "effusive", "elated", "electric",
	"elegant", "elite", "elusive", "eminent", "epic", "esteemed", "ethical", "exalted",
	"exciting", "fancy", "festive", "fiery", "flawless", "fluent", "foggy", "fond",
	"fresh", "friendly", "funky", "gallant", "genial", "genuine", "gifted", "glorious",
	"glowing", "graceful", "gracious", "grateful", "groovy", "happy", "helpful", "heroic",
	"holistic", "honest", "honored", "hopeful", "humane", "humble", "humorous", "iconic",
	"ideal", "idyllic", "immense", "imminent", "infinite", "informed", "inherent", "inspired",
	"intense", "intrepid", "inviting", "ironclad", "jaunty", "jazzy", "jocular", "jocund",
	"jolly", "jovial", "joyful", "jubilant", "jumpy", "keen", "kind", "kindred",
	"knowing", "lavish", "learned", "legible", "likeable", "lively", "logical", "loyal",
	"lucky", "luminous", "magical", "magnetic", "majestic", "mellow", "merry", "mindful",
	"mirthful", "modern", "modest", "moving", "myriad", "mystical", "nascent", "natural",
	"nifty", "nimble", "noble", "notable", "novel", "nuanced", "patient", "peaceful",
	"placid", "playful", "pleasant", "poetic", "polished", "popular", "powerful", "precise",
	"pristine", "prompt", "proper", "proud", "prudent", "purposed", "quaint", "quality",
	"quick", "quiet", "quirky", "radiant", "rare", "rational", "refined", "regal",
	"relevant", "reliable", "resolute", "revered", "robust", "rustic", "salient", "sensible",
	"serene", "shiny", "sincere", "skillful", "sleek", "slick", "smart", "snazzy",
	"soaring", "solid", "soulful", "sound", "special", "spiffy", "spirited", "splendid",
	"stately", "steady", "stellar", "storied", "striking", "strong", "stunning", "sublime",
	"sunny", "superb", "supreme", "swift", "tactful", "talented", "tangible", "tasteful",
	"terrific", "thriving", "timely", "tolerant", "tranquil", "trusty", "truthful", "unerring",
	"unique", "united", "uplifted", "useful", "valiant", "valuable", "varied", "vast",
	"vaunted", "viable", "vibrant", "vigilant", "vital", "vivid", "winsome", "wise",
	"wistful", "witty", "wizardly", "wondrous", "wordly", "worthy", "zany", "zesty",
	"zingy", "zippy",
}
