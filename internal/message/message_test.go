package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Message{
		{GlobalID: 1, MessageID: 1, Channel: "/chat", Data: []byte("hello")},
		{GlobalID: 42, MessageID: 7, Channel: "/a/b", Data: []byte("")},
		{GlobalID: 9999999999, MessageID: 1, Channel: "/x", Data: []byte("line one\nline two\n|pipe|")},
	}

	for _, m := range cases {
		encoded := Encode(m)
		decoded, err := Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, m.GlobalID, decoded.GlobalID)
		assert.Equal(t, m.MessageID, decoded.MessageID)
		assert.Equal(t, m.Channel, decoded.Channel)
		assert.Equal(t, m.Data, decoded.Data)
	}
}

func TestEncodeDecodeRoundTripPreservesScope(t *testing.T) {
	m := Message{
		GlobalID:  5,
		MessageID: 2,
		Channel:   "/chat",
		Data:      []byte("hi"),
		UserIDs:   []string{"alice", "bob"},
		GroupIDs:  []string{"admins"},
		ClientIDs: []string{"web-1"},
		SiteID:    "acme",
	}

	decoded, err := Decode(Encode(m))
	require.NoError(t, err)
	assert.Equal(t, m.UserIDs, decoded.UserIDs)
	assert.Equal(t, m.GroupIDs, decoded.GroupIDs)
	assert.Equal(t, m.ClientIDs, decoded.ClientIDs)
	assert.Equal(t, m.SiteID, decoded.SiteID)

	unscoped := Message{GlobalID: 1, MessageID: 1, Channel: "/x", Data: []byte("a")}
	encoded := Encode(unscoped)
	assert.Equal(t, "1|1|/x\na", string(encoded))
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte("no-newline-here"))
	require.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte("1|2\npayload"))
	require.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte("abc|2|chan\npayload"))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestVisibleTo(t *testing.T) {
	m := Message{UserIDs: []string{"u1", "u2"}}
	assert.True(t, m.VisibleTo("u1", nil, "", ""))
	assert.False(t, m.VisibleTo("u3", nil, "", ""))

	open := Message{}
	assert.True(t, open.VisibleTo("anyone", nil, "", ""))

	siteScoped := Message{SiteID: "site-a"}
	assert.True(t, siteScoped.VisibleTo("", nil, "", "site-a"))
	assert.False(t, siteScoped.VisibleTo("", nil, "", "site-b"))
}

func TestToWireJSONPreservesNestedJSON(t *testing.T) {
	m := Message{GlobalID: 1, MessageID: 1, Channel: "/c", Data: []byte(`{"x":1}`)}
	w := ToWireJSON(m)
	assert.JSONEq(t, `{"x":1}`, string(w.Data))

	plain := Message{GlobalID: 1, MessageID: 1, Channel: "/c", Data: []byte("hi there")}
	w2 := ToWireJSON(plain)
	assert.JSONEq(t, `"hi there"`, string(w2.Data))
}
