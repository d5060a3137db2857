package ledger

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// SubjectKey 账本主题键：keccak256(studentID|degree)，0x 前缀十六进制
// 同一 (学生, 学位) 永远映射到同一主题键，是重复锚定检查的依据
func SubjectKey(studentID, degree string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(studentID))
	h.Write([]byte("|"))
	h.Write([]byte(degree))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
