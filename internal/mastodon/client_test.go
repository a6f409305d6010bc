package mastodon

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostStatus_SendsTootAndDecodesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/statuses", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var toot Toot
		require.NoError(t, json.NewDecoder(r.Body).Decode(&toot))
		assert.Equal(t, "@alice hi", toot.Status)
		assert.Equal(t, "42", toot.InReplyToID)
		assert.Equal(t, VisibilityUnlisted, toot.Visibility)
		json.NewEncoder(w).Encode(Status{ID: "43", InReplyToID: "42"})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "tok")
	st, err := c.PostStatus(context.Background(), Toot{Status: "@alice hi", InReplyToID: "42", Visibility: VisibilityUnlisted})
	require.NoError(t, err)
	assert.Equal(t, "43", st.ID)
	assert.Equal(t, "42", st.InReplyToID)
}

func TestPostStatus_WhenServerFails_ShouldReturnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"Validation failed"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "tok").PostStatus(context.Background(), Toot{Status: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

func TestPostStatus_WhenEmpty_ShouldNotCallServer(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	_, err := New(srv.URL, "tok").PostStatus(context.Background(), Toot{Status: "  "})
	require.Error(t, err)
	assert.False(t, called)
}

func TestDo_WhenTokenMissing_ShouldFail(t *testing.T) {
	_, err := New("http://127.0.0.1:1", "").VerifyCredentials(context.Background())
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestVerifyCredentials_DecodesAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/accounts/verify_credentials", r.URL.Path)
		w.Write([]byte(`{"id":"1","acct":"bot","url":"https://example.social/@bot","display_name":"Bot"}`))
	}))
	defer srv.Close()

	acc, err := New(srv.URL, "tok").VerifyCredentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://example.social/@bot", acc.URL)
	assert.Equal(t, "bot", acc.Acct)
}

func TestUploadMedia_SendsMultipartFile(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/media", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		b, _ := io.ReadAll(f)
		assert.Equal(t, png, b)
		assert.Equal(t, "image.png", hdr.Filename)
		assert.Equal(t, "a red cat", r.FormValue("description"))
		w.Write([]byte(`{"id":"m1","type":"image"}`))
	}))
	defer srv.Close()

	att, err := New(srv.URL, "tok").UploadMedia(context.Background(), png, "image.png", "a red cat")
	require.NoError(t, err)
	assert.Equal(t, "m1", att.ID)
}

func TestStatus_NullReplyIDDecodesEmpty(t *testing.T) {
	var st Status
	require.NoError(t, json.Unmarshal([]byte(`{"id":"1","in_reply_to_id":null,"visibility":"direct"}`), &st))
	assert.Empty(t, st.InReplyToID)
	assert.Equal(t, VisibilityDirect, st.Visibility)
}
