package config

import (
	"fmt"
	"strconv"
)

// AccountsFromEnv scans numbered LIGHTER_<n>_* environment variables,
// starting at n=1 and stopping at the first n whose ACCOUNT_INDEX is
// unset. The lookup is injectable so tests can feed a plain map.
//
// Recognized per slot: ACCOUNT_INDEX (required), NAME, AUTH_TOKEN,
// API_KEY_PRIVATE_KEY, API_KEY_INDEX, PROXY.
func AccountsFromEnv(lookup func(string) (string, bool)) ([]AccountConfig, error) {
	var accounts []AccountConfig
	for n := 1; ; n++ {
		prefix := fmt.Sprintf("LIGHTER_%d_", n)

		rawIndex, ok := lookup(prefix + "ACCOUNT_INDEX")
		if !ok {
			break
		}
		index, err := strconv.Atoi(rawIndex)
		if err != nil {
			return nil, fmt.Errorf("parse %sACCOUNT_INDEX: %w", prefix, err)
		}

		acct := AccountConfig{Index: index}
		if v, ok := lookup(prefix + "NAME"); ok {
			acct.Name = v
		}
		if v, ok := lookup(prefix + "AUTH_TOKEN"); ok {
			acct.AuthToken = v
		}
		if v, ok := lookup(prefix + "API_KEY_PRIVATE_KEY"); ok {
			acct.APIKeyPrivateKey = v
		}
		if v, ok := lookup(prefix + "API_KEY_INDEX"); ok {
			keyIndex, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("parse %sAPI_KEY_INDEX: %w", prefix, err)
			}
			acct.APIKeyIndex = keyIndex
		}
		if v, ok := lookup(prefix + "PROXY"); ok {
			acct.Proxy = v
		}

		accounts = append(accounts, acct)
	}
	return accounts, nil
}
