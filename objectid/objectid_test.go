package objectid_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/typed-doc-server/objectid"
)

func TestParseRoundTrip(t *testing.T) {
	for _, s := range []string{
		"652f1f7a3e0a2b001234abcd",
		"000000000000000000000000",
		"ffffffffffffffffffffffff",
		"0123456789abcdef01234567",
	} {
		id, err := objectid.Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, id.String())
	}
}

func TestParseUpperCaseRendersLower(t *testing.T) {
	id, err := objectid.Parse("652F1F7A3E0A2B001234ABCD")
	require.NoError(t, err)
	assert.Equal(t, "652f1f7a3e0a2b001234abcd", id.String())
}

func TestParseMalformed(t *testing.T) {
	cases := []string{
		"",
		"652f1f7a3e0a2b001234abc",   // 23 chars
		"652f1f7a3e0a2b001234abcde", // 25 chars
		"652f1f7a3e0a2b001234abcz",
		"652f1f7a-e0a2b001234abcd",
		strings.Repeat(" ", 24),
		"zzzzzzzzzzzzzzzzzzzzzzzz",
	}
	for _, s := range cases {
		_, err := objectid.Parse(s)
		require.Error(t, err, "input %q", s)
		assert.True(t, errors.Is(err, objectid.ErrMalformed), "input %q: %v", s, err)

		var pe *objectid.ParseError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, s, pe.Input)
		assert.False(t, objectid.IsValid(s))
	}
}

func TestNewIsUniqueAndOrdered(t *testing.T) {
	seen := make(map[objectid.ID]bool)
	prev := objectid.New()
	for i := 0; i < 1000; i++ {
		id := objectid.New()
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
		assert.LessOrEqual(t, prev.Timestamp().Unix(), id.Timestamp().Unix())
		prev = id
	}
}

func TestNewRoundTripsAndCarriesTime(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id := objectid.New()
	assert.False(t, id.IsZero())

	parsed, err := objectid.Parse(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.False(t, id.Timestamp().Before(before.Truncate(time.Second)))
}

func TestCompare(t *testing.T) {
	a := objectid.MustParse("000000000000000000000001")
	b := objectid.MustParse("000000000000000000000002")
	assert.Equal(t, -1, objectid.Compare(a, b))
	assert.Equal(t, 1, objectid.Compare(b, a))
	assert.Equal(t, 0, objectid.Compare(a, a))
}

func TestJSON(t *testing.T) {
	id := objectid.MustParse("652f1f7a3e0a2b001234abcd")
	b, err := json.Marshal(map[string]any{"_id": id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"_id":"652f1f7a3e0a2b001234abcd"}`, string(b))

	var out struct {
		ID objectid.ID `json:"_id"`
	}
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, id, out.ID)

	err = json.Unmarshal([]byte(`{"_id":"nope"}`), &out)
	assert.ErrorIs(t, err, objectid.ErrMalformed)
}

func TestFromBytes(t *testing.T) {
	id := objectid.New()
	got, err := objectid.FromBytes(id[:])
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = objectid.FromBytes([]byte{1, 2, 3})
	assert.ErrorIs(t, err, objectid.ErrMalformed)
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { objectid.MustParse("bad") })
}
