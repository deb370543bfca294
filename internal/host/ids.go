package host

import "github.com/google/uuid"

var idNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("hubspaced.accessory"))

// DeriveID returns a name-based UUID for seed. The same seed always yields
// the same id.
func DeriveID(seed string) string {
	return uuid.NewSHA1(idNamespace, []byte(seed)).String()
}
