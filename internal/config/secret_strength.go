package config

import zxcvbn "github.com/ccojocar/zxcvbn-go"

const weakSecretScoreThreshold = 3

// IsWeakSecret reports whether the path password is guessable enough to
// warrant a startup warning. An empty secret disables the password check
// entirely and is not treated as weak here.
func IsWeakSecret(secret string) bool {
	if secret == "" {
		return false
	}
	result := zxcvbn.PasswordStrength(secret, nil)
	return result.Score < weakSecretScoreThreshold
}
