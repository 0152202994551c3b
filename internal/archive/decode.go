package archive

import (
	"fmt"
	"net/http"
	"net/textproto"
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/net/http/httpguts"

	"github.com/shiroyk/tracerbench-serve/internal/vm"
)

// Root is a loaded archive: the decoded response sets plus the
// memory-mapped file backing them. It is kept open for the process
// lifetime; the archive is never hot-reloaded (spec §9).
type Root struct {
	mapping mmap.MMap
	file    *os.File
	Sets    []*ResponseSet
}

// Close unmaps and closes the backing file. Tests call it directly; the
// server defers it until its run returns.
func (r *Root) Close() error {
	if err := r.mapping.Unmap(); err != nil {
		return err
	}
	return r.file.Close()
}

// Load memory-maps path read-only and decodes its CBOR-encoded
// recorded-response archive. Decode proceeds through the mandatory
// 6-tuple order -- BodyTable, HeaderNameTable, HeaderValueTable,
// HeadersTable, ResponseTable, ResponseSetList -- so that every later
// table resolves indices into earlier ones eagerly; nothing is resolved
// lazily at request time.
func Load(path string) (*Root, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", path, err)
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mapping archive %s: %w", path, err)
	}

	sets, err := decodeRoot([]byte(m))
	if err != nil {
		m.Unmap()
		f.Close()
		return nil, fmt.Errorf("decoding archive %s: %w", path, err)
	}

	return &Root{mapping: m, file: f, Sets: sets}, nil
}

func decodeRoot(data []byte) ([]*ResponseSet, error) {
	var raw [6]cbor.RawMessage
	if err := decodeCBOR(data, &raw); err != nil {
		return nil, fmt.Errorf("expected a 6-element archive root: %w", err)
	}

	bodyTable, err := decodeBodyTable(raw[0])
	if err != nil {
		return nil, fmt.Errorf("body table: %w", err)
	}

	nameTable, err := decodeHeaderNameTable(raw[1])
	if err != nil {
		return nil, fmt.Errorf("header name table: %w", err)
	}

	valueTable, err := decodeHeaderValueTable(raw[2])
	if err != nil {
		return nil, fmt.Errorf("header value table: %w", err)
	}

	headersTable, err := decodeHeadersTable(raw[3], nameTable, valueTable)
	if err != nil {
		return nil, fmt.Errorf("headers table: %w", err)
	}

	responseTable, err := decodeResponseTable(raw[4], headersTable, bodyTable)
	if err != nil {
		return nil, fmt.Errorf("response table: %w", err)
	}

	sets, err := decodeResponseSets(raw[5], responseTable)
	if err != nil {
		return nil, fmt.Errorf("response set list: %w", err)
	}

	return sets, nil
}

func decodeBodyTable(raw cbor.RawMessage) ([][]byte, error) {
	var bodies [][]byte
	if err := decodeCBOR(raw, &bodies); err != nil {
		return nil, err
	}
	return bodies, nil
}

func decodeHeaderNameTable(raw cbor.RawMessage) ([]string, error) {
	var names []string
	if err := decodeCBOR(raw, &names); err != nil {
		return nil, err
	}
	for i, name := range names {
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, fmt.Errorf("entry %d: %q is not a valid header field name", i, name)
		}
		names[i] = textproto.CanonicalMIMEHeaderKey(name)
	}
	return names, nil
}

func decodeHeaderValueTable(raw cbor.RawMessage) ([]string, error) {
	var values []string
	if err := decodeCBOR(raw, &values); err != nil {
		return nil, err
	}
	for i, value := range values {
		if !httpguts.ValidHeaderFieldValue(value) {
			return nil, fmt.Errorf("entry %d: %q is not a valid header field value", i, value)
		}
	}
	return values, nil
}

// decodeHeadersTable resolves each headers-table entry's (nameIndex,
// valueIndex) pairs against the already-decoded name/value tables,
// producing one shared *http.Header per entry in archive order.
func decodeHeadersTable(raw cbor.RawMessage, names, values []string) ([]*http.Header, error) {
	var entries [][]wireHeaderPair
	if err := decodeCBOR(raw, &entries); err != nil {
		return nil, err
	}

	out := make([]*http.Header, len(entries))
	for i, pairs := range entries {
		h := make(http.Header, len(pairs))
		for _, pair := range pairs {
			nameIdx, valueIdx := pair[0], pair[1]
			if nameIdx < 0 || nameIdx >= len(names) {
				return nil, fmt.Errorf("entry %d: header name index %d out of range", i, nameIdx)
			}
			if valueIdx < 0 || valueIdx >= len(values) {
				return nil, fmt.Errorf("entry %d: header value index %d out of range", i, valueIdx)
			}
			h.Add(names[nameIdx], values[valueIdx])
		}
		out[i] = &h
	}
	return out, nil
}

// decodeResponseTable resolves each response's headers/body indices,
// producing one *RecordedResponse per entry, cheap to share by pointer
// across every response set that references it.
func decodeResponseTable(raw cbor.RawMessage, headersTable []*http.Header, bodyTable [][]byte) ([]*RecordedResponse, error) {
	var entries []wireResponse
	if err := decodeCBOR(raw, &entries); err != nil {
		return nil, err
	}

	out := make([]*RecordedResponse, len(entries))
	for i, entry := range entries {
		if entry.Status < 100 || entry.Status > 999 {
			return nil, fmt.Errorf("entry %d: status code %d out of range", i, entry.Status)
		}
		if entry.HeaderIdx < 0 || entry.HeaderIdx >= len(headersTable) {
			return nil, fmt.Errorf("entry %d: headers index %d out of range", i, entry.HeaderIdx)
		}
		var body []byte
		if entry.BodyIdx != nil {
			idx := *entry.BodyIdx
			if idx < 0 || idx >= len(bodyTable) {
				return nil, fmt.Errorf("entry %d: body index %d out of range", i, idx)
			}
			body = bodyTable[idx]
		}
		out[i] = &RecordedResponse{
			StatusCode: int(entry.Status),
			Headers:    headersTable[entry.HeaderIdx],
			Body:       body,
		}
	}
	return out, nil
}

// decodeResponseSets builds the final, independently-servable sets: a
// compiled request-key program per set, and a key -> recorded-response
// map resolved against the already-decoded response table. Duplicate
// socks_port assignments are rejected; ports are the only thing that
// distinguishes endpoints once bound.
func decodeResponseSets(raw cbor.RawMessage, responseTable []*RecordedResponse) ([]*ResponseSet, error) {
	var wireSets []wireResponseSet
	if err := decodeCBOR(raw, &wireSets); err != nil {
		return nil, err
	}

	sets := make([]*ResponseSet, 0, len(wireSets))
	seenPorts := make(map[uint16]string, len(wireSets))

	for i, ws := range wireSets {
		if existing, dup := seenPorts[ws.SocksPort]; dup {
			return nil, fmt.Errorf("set %d (%s): socks_port %d already used by %q", i, ws.Name, ws.SocksPort, existing)
		}
		seenPorts[ws.SocksPort] = ws.Name

		literals, err := decodeLiteralTable(ws.RequestKeyProgram.Literals)
		if err != nil {
			return nil, fmt.Errorf("set %d (%s): literal table: %w", i, ws.Name, err)
		}

		program, err := vm.NewProgram(ws.RequestKeyProgram.Opcodes, literals)
		if err != nil {
			return nil, fmt.Errorf("set %d (%s): request-key program: %w", i, ws.Name, err)
		}

		responses := make(map[string]*RecordedResponse, len(ws.RequestKeyMap))
		for key, idx := range ws.RequestKeyMap {
			if idx < 0 || idx >= len(responseTable) {
				return nil, fmt.Errorf("set %d (%s): response index %d for key %q out of range", i, ws.Name, idx, key)
			}
			responses[key] = responseTable[idx]
		}

		sets = append(sets, &ResponseSet{
			SocksPort: ws.SocksPort,
			Name:      ws.Name,
			EntryKey:  ws.EntryKey,
			program:   program,
			responses: responses,
		})
	}

	return sets, nil
}

func decodeLiteralTable(wireLiterals []wireLiteral) (vm.LiteralTable, error) {
	table := make(vm.LiteralTable, len(wireLiterals))
	for i, lit := range wireLiterals {
		built, err := decodeLiteral(lit)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		table[i] = built
	}
	return table, nil
}

func decodeLiteral(lit wireLiteral) (vm.Literal, error) {
	switch lit.Type {
	case "String":
		var s string
		if err := decodeCBOR(lit.Content, &s); err != nil {
			return vm.Literal{}, fmt.Errorf("String content: %w", err)
		}
		return vm.NewStringLiteral(s), nil
	case "Match":
		var pattern string
		if err := decodeCBOR(lit.Content, &pattern); err != nil {
			return vm.Literal{}, fmt.Errorf("Match content: %w", err)
		}
		return vm.NewMatchLiteral(pattern)
	case "Replace", "ReplaceAll":
		var pair [2]string
		if err := decodeCBOR(lit.Content, &pair); err != nil {
			return vm.Literal{}, fmt.Errorf("%s content: %w", lit.Type, err)
		}
		if lit.Type == "Replace" {
			return vm.NewReplaceLiteral(pair[0], pair[1])
		}
		return vm.NewReplaceAllLiteral(pair[0], pair[1])
	default:
		return vm.Literal{}, fmt.Errorf("unknown literal type %q", lit.Type)
	}
}
