package task

import (
	"crypto/rand"
	"strings"
)

// base57Alphabet excludes visually ambiguous characters (0, O, I, l, 1)
// per spec.md §8 property 5: ^<task_type_lower>_[2-9A-HJ-NP-Za-km-z]{9}$.
const base57Alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

const taskIDSuffixLen = 9

// GenerateTaskID builds "<lower(task_type)>_<9-char base57>".
func GenerateTaskID(taskType string) (string, error) {
	suffix, err := randomBase57(taskIDSuffixLen)
	if err != nil {
		return "", err
	}
	return strings.ToLower(taskType) + "_" + suffix, nil
}

func randomBase57(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.Grow(n)
	base := len(base57Alphabet)
	for _, b := range buf {
		sb.WriteByte(base57Alphabet[int(b)%base])
	}
	return sb.String(), nil
}
