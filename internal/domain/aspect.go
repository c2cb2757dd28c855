package domain

// DefaultAspectRatio matches the portrait-first output of the studio.
const DefaultAspectRatio = "9:16"

var allowedAspectRatios = map[string]struct{}{
	"1:1":  {},
	"4:3":  {},
	"3:4":  {},
	"16:9": {},
	"9:16": {},
}

// NormalizeAspectRatio falls back to the default for empty or unknown
// values instead of failing the request.
func NormalizeAspectRatio(ratio string) string {
	if _, ok := allowedAspectRatios[ratio]; ok {
		return ratio
	}
	return DefaultAspectRatio
}
