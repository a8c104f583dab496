package account

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

const signMethod = "HMAC-SHA256"

// stringToSign builds the canonical request description covered by the request signature:
//
//	METHOD \n sha256(body) \n \n path?sorted-query
func stringToSign(method, path string, query url.Values, body []byte) string {
	digest := sha256.Sum256(body)
	target := path
	if len(query) > 0 {
		keys := make([]string, 0, len(query))
		for k := range query {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			for _, v := range query[k] {
				pairs = append(pairs, k+"="+v)
			}
		}
		target += "?" + strings.Join(pairs, "&")
	}
	return strings.Join([]string{
		strings.ToUpper(method),
		hex.EncodeToString(digest[:]),
		"",
		target,
	}, "\n")
}

// sign computes the request signature. accessToken is empty for login requests.
func sign(accessID, accessSecret, accessToken, timestamp, nonce, canonical string) string {
	mac := hmac.New(sha256.New, []byte(accessSecret))
	mac.Write([]byte(accessID + accessToken + timestamp + nonce + canonical))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}
