package batch

import (
	"encoding/base64"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringToSign(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost,
		"https://acct.westeurope.batch.azure.com/jobs/dst_a_pgp/tasks?api-version=2024-07-01.20.0&timeout=30",
		strings.NewReader(`{"id":"task-encrypt"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentTypeOData)
	req.Header.Set("ocp-date", "Mon, 19 Oct 2026 10:00:00 GMT")
	req.Header.Set("User-Agent", "ignored")

	want := "POST\n" +
		"\n" + // Content-Encoding
		"\n" + // Content-Language
		"21\n" +
		"\n" + // Content-MD5
		contentTypeOData + "\n" +
		"\n\n\n\n\n\n" + // Date through Range
		"ocp-date:Mon, 19 Oct 2026 10:00:00 GMT\n" +
		"/acct/jobs/dst_a_pgp/tasks\n" +
		"api-version:2024-07-01.20.0\n" +
		"timeout:30"

	assert.Equal(t, want, stringToSign("acct", req))
}

func TestStringToSignEmptyBody(t *testing.T) {
	req, err := http.NewRequest(http.MethodDelete, "https://acct.batch.azure.com/pools/Pooldst_a_pgp?api-version=v1", nil)
	require.NoError(t, err)

	lines := strings.Split(stringToSign("acct", req), "\n")
	require.Len(t, lines, 14)
	assert.Equal(t, "DELETE", lines[0])
	assert.Equal(t, "", lines[3], "zero content length is signed as empty")
	assert.Equal(t, "/acct/pools/Pooldst_a_pgp", lines[12])
	assert.Equal(t, "api-version:v1", lines[13])
}

func TestNewSharedKeyPolicyRejectsBadKey(t *testing.T) {
	_, err := NewSharedKeyPolicy("acct", "not base64!")
	assert.Error(t, err)

	p, err := NewSharedKeyPolicy("acct", base64.StdEncoding.EncodeToString([]byte("secret")))
	require.NoError(t, err)
	sig, err := base64.StdEncoding.DecodeString(p.sign("payload"))
	require.NoError(t, err)
	assert.Len(t, sig, 32)
}

func TestCredentialsStringRedactsKey(t *testing.T) {
	c := Credentials{ServiceURL: "https://acct.batch.azure.com", AccountName: "acct", AccountKey: "c2VjcmV0"}
	s := c.String()
	assert.NotContains(t, s, "c2VjcmV0")
	assert.Contains(t, s, "BatchAccountKey = ****")
	assert.Contains(t, s, "BatchAccountName = acct")

	assert.Error(t, Credentials{}.Validate())
	assert.NoError(t, c.Validate())
}
