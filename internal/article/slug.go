package article

import (
	"strings"
	"unicode"
)

// slugMaxLength はスラッグの最大長。
const slugMaxLength = 255

// Slugify はタイトルからURLフレンドリーなスラッグを生成する。
// 英数字以外はハイフンに置き換え、連続するハイフンは1つにまとめる。
// 最大長を超える場合は単語境界（ハイフン）で切り詰める。
func Slugify(title string) string {
	var b strings.Builder
	prevHyphen := false
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) && r < unicode.MaxASCII, unicode.IsDigit(r) && r < unicode.MaxASCII:
			b.WriteRune(r)
			prevHyphen = false
		default:
			if !prevHyphen && b.Len() > 0 {
				b.WriteByte('-')
				prevHyphen = true
			}
		}
	}

	slug := strings.Trim(b.String(), "-")
	if len(slug) <= slugMaxLength {
		return slug
	}

	// 単語境界で切り詰める
	cut := slug[:slugMaxLength]
	if idx := strings.LastIndexByte(cut, '-'); idx > 0 {
		cut = cut[:idx]
	}
	return strings.Trim(cut, "-")
}
