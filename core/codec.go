package core

import "encoding/json"

// encode/decode are the single place every subsystem turns a domain struct
// into the []byte a Tx stores. JSON keeps the on-disk layout readable for
// the SQLite-backed store and needs no generated code or schema.
func encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic("core: unencodable value: " + err.Error())
	}
	return b
}

func decode(b []byte, v any) bool {
	if b == nil {
		return false
	}
	return json.Unmarshal(b, v) == nil
}
