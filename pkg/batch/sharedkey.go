package batch

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
)

const headerOcpDate = "ocp-date"

// SharedKeyPolicy signs each attempt with the Batch account key. It must run
// per retry because ocp-date is part of the signature.
type SharedKeyPolicy struct {
	account string
	key     []byte
	now     func() time.Time
}

func NewSharedKeyPolicy(account, accountKey string) (*SharedKeyPolicy, error) {
	key, err := base64.StdEncoding.DecodeString(accountKey)
	if err != nil {
		return nil, fmt.Errorf("decode batch account key: %w", err)
	}
	return &SharedKeyPolicy{account: account, key: key, now: time.Now}, nil
}

func (p *SharedKeyPolicy) Do(req *policy.Request) (*http.Response, error) {
	raw := req.Raw()
	raw.Header.Set(headerOcpDate, p.now().UTC().Format(http.TimeFormat))
	raw.Header.Set("Authorization", "SharedKey "+p.account+":"+p.sign(stringToSign(p.account, raw)))
	return req.Next()
}

func (p *SharedKeyPolicy) sign(s string) string {
	mac := hmac.New(sha256.New, p.key)
	mac.Write([]byte(s))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func stringToSign(account string, req *http.Request) string {
	h := req.Header
	contentLength := ""
	if req.ContentLength > 0 {
		contentLength = strconv.FormatInt(req.ContentLength, 10)
	} else if v := h.Get("Content-Length"); v != "" && v != "0" {
		contentLength = v
	}
	parts := []string{
		req.Method,
		h.Get("Content-Encoding"),
		h.Get("Content-Language"),
		contentLength,
		h.Get("Content-MD5"),
		h.Get("Content-Type"),
		h.Get("Date"),
		h.Get("If-Modified-Since"),
		h.Get("If-Match"),
		h.Get("If-None-Match"),
		h.Get("If-Unmodified-Since"),
		h.Get("Range"),
	}
	return strings.Join(parts, "\n") + "\n" + canonicalHeaders(h) + canonicalResource(account, req.URL)
}

func canonicalHeaders(h http.Header) string {
	var names []string
	for k := range h {
		if strings.HasPrefix(strings.ToLower(k), "ocp-") {
			names = append(names, k)
		}
	}
	sort.Slice(names, func(i, j int) bool { return strings.ToLower(names[i]) < strings.ToLower(names[j]) })
	var sb strings.Builder
	for _, k := range names {
		sb.WriteString(strings.ToLower(k))
		sb.WriteByte(':')
		sb.WriteString(strings.TrimSpace(strings.Join(h.Values(k), ",")))
		sb.WriteByte('\n')
	}
	return sb.String()
}

func canonicalResource(account string, u *url.URL) string {
	var sb strings.Builder
	sb.WriteByte('/')
	sb.WriteString(account)
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	sb.WriteString(path)

	q := u.Query()
	names := make([]string, 0, len(q))
	lowered := make(map[string][]string, len(q))
	for k, v := range q {
		lk := strings.ToLower(k)
		if _, ok := lowered[lk]; !ok {
			names = append(names, lk)
		}
		lowered[lk] = append(lowered[lk], v...)
	}
	sort.Strings(names)
	for _, k := range names {
		vals := lowered[k]
		sort.Strings(vals)
		sb.WriteByte('\n')
		sb.WriteString(k)
		sb.WriteByte(':')
		sb.WriteString(strings.Join(vals, ","))
	}
	return sb.String()
}
