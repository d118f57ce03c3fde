package sasl

import "golang.org/x/text/secure/precis"

// saslPrep normalizes a password per RFC 4013 (SASLprep) using the
// OpaqueString profile, as RFC 5802 requires before it is hashed into a
// SCRAM salted password. If the password contains characters the
// profile rejects, it's used as-is: servers generally accept the raw
// bytes too, and refusing to authenticate over a prep failure would be
// worse than a mismatch.
func saslPrep(password string) string {
	if prepped, err := precis.OpaqueString.String(password); err == nil {
		return prepped
	}
	return password
}
