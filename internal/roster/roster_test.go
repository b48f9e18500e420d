package roster

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `# id addr udp tcp
A 10.0.0.2 9001 9002

# self
B 10.0.0.3 9003 9004
C 10.0.0.4 9005 9006
`

func TestParse_SplitsSelf(t *testing.T) {
	d, err := Parse(strings.NewReader(sample), "B")
	require.NoError(t, err)

	assert.Equal(t, "B", d.Self().ID)
	assert.Equal(t, 2, d.Len())

	_, ok := d.Lookup("B")
	assert.False(t, ok, "self must not be in the peer table")

	a, ok := d.Lookup("A")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.2:9002", a.ChatAddr())
	assert.Equal(t, 9001, a.HeartbeatAddr().Port)
}

func TestParse_PeersSorted(t *testing.T) {
	d, err := Parse(strings.NewReader("z 1.1.1.1 1 2\nme 1.1.1.2 3 4\na 1.1.1.3 5 6\n"), "me")
	require.NoError(t, err)

	var ids []string
	for _, p := range d.Peers() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"a", "z"}, ids)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"missing self", "A 10.0.0.2 9001 9002\n", ErrSelfNotFound},
		{"short line", "B 10.0.0.3 9003\n", ErrMalformedLine},
		{"ipv6", "B ::1 9003 9004\n", ErrMalformedLine},
		{"bad port", "B 10.0.0.3 udp 9004\n", ErrMalformedLine},
		{"zero port", "B 10.0.0.3 0 9004\n", ErrMalformedLine},
		{"port overflow", "B 10.0.0.3 70000 9004\n", ErrMalformedLine},
		{"duplicate", "B 10.0.0.3 1 2\nA 10.0.0.2 3 4\nA 10.0.0.5 5 6\n", ErrDuplicatePeer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input), "B")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParse_ErrorCarriesLineNumber(t *testing.T) {
	_, err := Parse(strings.NewReader("# c\nB 10.0.0.3 1 2\nbroken\n"), "B")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.txt")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	d, err := Load(path, "C")
	require.NoError(t, err)
	assert.Equal(t, "C", d.Self().ID)

	_, err = Load(path, "nobody")
	assert.ErrorIs(t, err, ErrSelfNotFound)
	assert.Contains(t, err.Error(), path)

	_, err = Load(filepath.Join(t.TempDir(), "missing"), "B")
	assert.Error(t, err)
}
