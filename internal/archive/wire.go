package archive

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// These types describe the archive's on-disk CBOR shapes exactly as
// spec.md §3/§9 lays them out: a root 6-tuple decoded strictly in
// order, tables of byte strings and strings, index pairs resolved
// against earlier tables, and literal entries tagged by "type" with
// their payload under "content".

// wireLiteral is one entry of a request-key program's literal table.
// Type is one of "String", "Match", "Replace", "ReplaceAll"; Content is
// a bare string for String/Match, or a two-element [pattern,
// replacement] array for Replace/ReplaceAll.
type wireLiteral struct {
	Type    string          `cbor:"type"`
	Content cbor.RawMessage `cbor:"content"`
}

// wireHeaderPair is a (headerNameIndex, headerValueIndex) pair as
// stored in the headers table.
type wireHeaderPair [2]int

// wireResponse is (statusCode, headersIndex, bodyIndex). bodyIndex is
// nil when the recording had no body.
type wireResponse struct {
	_         struct{} `cbor:",toarray"`
	Status    uint16
	HeaderIdx int
	BodyIdx   *int
}

// wireRequestKeyProgram mirrors the original's Program(LiteralTable,
// Opcodes) tuple: the literal table, then the raw opcode byte stream.
type wireRequestKeyProgram struct {
	_        struct{} `cbor:",toarray"`
	Literals []wireLiteral
	Opcodes  []byte
}

// wireResponseSet is one entry of the archive's final table: a named,
// independently-servable set of recorded responses plus the program
// that computes lookup keys for it.
type wireResponseSet struct {
	SocksPort         uint16                `cbor:"socksPort"`
	Name              string                `cbor:"name"`
	EntryKey          string                `cbor:"entryKey"`
	RequestKeyProgram wireRequestKeyProgram `cbor:"requestKeyProgram"`
	RequestKeyMap     map[string]int        `cbor:"requestKeyMap"`
}

func decodeCBOR(data []byte, v interface{}) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cbor decode: %w", err)
	}
	return nil
}
