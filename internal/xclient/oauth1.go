package xclient

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// oauth1 signs requests with OAuth 1.0a HMAC-SHA1 user credentials.
type oauth1 struct {
	consumerKey    string
	consumerSecret string
	accessToken    string
	accessSecret   string
	nowFn          func() time.Time
	nonceFn        func() string
}

func newOAuth1(ck, cs, at, as string) *oauth1 {
	return &oauth1{
		consumerKey:    ck,
		consumerSecret: cs,
		accessToken:    at,
		accessSecret:   as,
		nowFn:          time.Now,
		nonceFn:        func() string { return strconv.FormatInt(rand.Int63(), 36) },
	}
}

// sign sets the Authorization header over the request's method, URL and
// query parameters.
func (o *oauth1) sign(req *http.Request) {
	oauth := map[string]string{
		"oauth_consumer_key":     o.consumerKey,
		"oauth_nonce":            o.nonceFn(),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(o.nowFn().Unix(), 10),
		"oauth_token":            o.accessToken,
		"oauth_version":          "1.0",
	}

	var pairs []string
	for k, v := range oauth {
		pairs = append(pairs, rfc3986(k)+"="+rfc3986(v))
	}
	for k, vs := range req.URL.Query() {
		for _, v := range vs {
			pairs = append(pairs, rfc3986(k)+"="+rfc3986(v))
		}
	}
	sort.Strings(pairs)

	baseURL := req.URL.Scheme + "://" + req.URL.Host + req.URL.Path
	base := req.Method + "&" + rfc3986(baseURL) + "&" + rfc3986(strings.Join(pairs, "&"))
	key := rfc3986(o.consumerSecret) + "&" + rfc3986(o.accessSecret)
	mac := hmac.New(sha1.New, []byte(key))
	_, _ = mac.Write([]byte(base))
	oauth["oauth_signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	keys := make([]string, 0, len(oauth))
	for k := range oauth {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", rfc3986(k), rfc3986(oauth[k])))
	}
	req.Header.Set("Authorization", "OAuth "+strings.Join(parts, ", "))
}

// rfc3986 percent-encodes per RFC 3986, as OAuth requires.
func rfc3986(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(url.QueryEscape(s), "+", "%20"), "*", "%2A")
}
