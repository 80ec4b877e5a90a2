package provider

// regionTable is a bijective map between canonical region tokens (e.g.
// "Frankfurt", "NewJersey") and a single provider's native region codes.
type regionTable struct {
	providerName string
	toNative     map[string]string
	toCanonical  map[string]string
}

func newRegionTable(providerName string, canonicalToNative map[string]string) *regionTable {
	toCanonical := make(map[string]string, len(canonicalToNative))
	for canonical, native := range canonicalToNative {
		toCanonical[native] = canonical
	}
	return &regionTable{
		providerName: providerName,
		toNative:     canonicalToNative,
		toCanonical:  toCanonical,
	}
}

// Native translates a canonical region token to the provider-native code.
func (t *regionTable) Native(canonical string) (string, error) {
	code, ok := t.toNative[canonical]
	if !ok {
		return "", &UnknownRegionError{Provider: t.providerName, Region: canonical}
	}
	return code, nil
}

// Canonical translates a provider-native region code back to the canonical
// token. Used when normalizing instances observed from a ListInstances call.
func (t *regionTable) Canonical(native string) (string, error) {
	token, ok := t.toCanonical[native]
	if !ok {
		return "", &UnknownRegionError{Provider: t.providerName, Region: native}
	}
	return token, nil
}

var awsRegions = newRegionTable("aws", map[string]string{
	"Frankfurt": "eu-central-1",
	"NewJersey": "us-east-1",
	"London":    "eu-west-2",
	"Singapore": "ap-southeast-1",
})

var vultrRegions = newRegionTable("vultr", map[string]string{
	"Frankfurt": "fra",
	"NewJersey": "ewr",
	"London":    "lhr",
	"Singapore": "sgp",
})

var hetznerRegions = newRegionTable("hetzner", map[string]string{
	"Frankfurt": "fsn1",
	"NewJersey": "ash",
	"London":    "hel1",
})
