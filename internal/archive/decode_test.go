package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

// buildTestArchive assembles a minimal but complete archive root: one
// body, one header name/value pair, one headers-table entry, one
// recorded response, and one response set with an empty (identity)
// request-key program.
func buildTestArchive(t *testing.T) []byte {
	t.Helper()

	bodyTable := [][]byte{[]byte("hello world")}
	nameTable := []string{"content-type"}
	valueTable := []string{"text/plain"}
	headersTable := [][]wireHeaderPair{
		{{0, 0}},
	}
	zero := 0
	responseTable := []wireResponse{
		{Status: 200, HeaderIdx: 0, BodyIdx: &zero},
	}
	responseSetList := []wireResponseSet{
		{
			SocksPort: 9001,
			Name:      "example",
			EntryKey:  "GET example.com /",
			RequestKeyProgram: wireRequestKeyProgram{
				Literals: nil,
				Opcodes:  nil,
			},
			RequestKeyMap: map[string]int{
				"GET example.com /": 0,
			},
		},
	}

	root := []interface{}{
		bodyTable, nameTable, valueTable, headersTable, responseTable, responseSetList,
	}

	data, err := cbor.Marshal(root)
	require.NoError(t, err)
	return data
}

func writeTempArchive(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.cbor")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoadRoundTrip(t *testing.T) {
	path := writeTempArchive(t, buildTestArchive(t))

	root, err := Load(path)
	require.NoError(t, err)
	defer root.Close()

	require.Len(t, root.Sets, 1)
	set := root.Sets[0]
	require.Equal(t, uint16(9001), set.SocksPort)
	require.Equal(t, "example", set.Name)

	resp, ok, err := set.ResponseFor("GET", "example.com", "/")
	require.NoError(t, err)
	require.True(t, ok, "expected a recorded response for GET example.com /")
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, "text/plain", resp.Headers.Get("Content-Type"))
	require.Equal(t, "hello world", string(resp.Body))

	_, ok, err = set.ResponseFor("GET", "example.com", "/missing")
	require.NoError(t, err)
	require.False(t, ok, "expected no recorded response for an unknown path")
}

func TestLoadRejectsDuplicateSocksPort(t *testing.T) {
	bodyTable := [][]byte{}
	nameTable := []string{}
	valueTable := []string{}
	headersTable := [][]wireHeaderPair{}
	responseTable := []wireResponse{}
	responseSetList := []wireResponseSet{
		{SocksPort: 1, Name: "a", EntryKey: "k", RequestKeyMap: map[string]int{}},
		{SocksPort: 1, Name: "b", EntryKey: "k", RequestKeyMap: map[string]int{}},
	}
	root := []interface{}{
		bodyTable, nameTable, valueTable, headersTable, responseTable, responseSetList,
	}
	data, err := cbor.Marshal(root)
	require.NoError(t, err)

	_, err = Load(writeTempArchive(t, data))
	require.Error(t, err, "expected an error for a duplicate socks_port")
}

func TestLoadRejectsBadHeaderName(t *testing.T) {
	bodyTable := [][]byte{}
	nameTable := []string{"bad name"}
	valueTable := []string{}
	headersTable := [][]wireHeaderPair{}
	responseTable := []wireResponse{}
	responseSetList := []wireResponseSet{}
	root := []interface{}{
		bodyTable, nameTable, valueTable, headersTable, responseTable, responseSetList,
	}
	data, err := cbor.Marshal(root)
	require.NoError(t, err)

	_, err = Load(writeTempArchive(t, data))
	require.Error(t, err, "expected an error for an invalid header field name")
}
