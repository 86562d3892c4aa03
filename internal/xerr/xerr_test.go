package xerr

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteToEnvelope(t *testing.T) {
	e := New(KindInvalidSessionID, "no such session: abc")
	rec := httptest.NewRecorder()
	e.WriteTo(rec)

	assert.Equal(t, 404, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	var body envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid session id", body.Value.Error)
	assert.Equal(t, "no such session: abc", body.Value.Message)
}

func TestKindStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindSessionNotCreated:   500,
		KindDriverStartupFailed: 500,
		KindInvalidSessionID:    404,
		KindNotFound:            404,
		KindUpstreamUnreachable: 502,
		KindTimeout:             504,
		KindBadRequest:          400,
		KindInternal:            500,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.status(), "kind %s", kind)
	}
}

func TestWriteErrorCoercesPlainError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, assert.AnError)
	assert.Equal(t, 500, rec.Code)
}

func TestWrapPreservesCause(t *testing.T) {
	e := Wrap(KindUpstreamUnreachable, assert.AnError)
	assert.ErrorIs(t, e, assert.AnError)
	assert.Equal(t, 502, e.Status())
}
