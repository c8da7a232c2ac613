package swift

import "encoding/hex"

// Object names are a one-character scheme tag followed by the hex of the key.  Hex
// keeps byte order and prefixes intact, so listing the objects under the encoded
// prefix yields the keys under the plain prefix.  Swift caps names at 1024 bytes,
// which limits keys to 511 bytes.
const hexScheme = '0'

func encodeKey(key string) string {
	return string(hexScheme) + hex.EncodeToString([]byte(key))
}

// decodeKey reverses encodeKey, reporting false for objects not written by this
// package.
func decodeKey(name string) (string, bool) {
	if name == "" || name[0] != hexScheme {
		return "", false
	}
	raw, err := hex.DecodeString(name[1:])
	if err != nil {
		return "", false
	}
	return string(raw), true
}
