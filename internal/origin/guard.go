// Package origin はリクエスト元オリジンの許可判定を提供する。
//
// 許可リストはオリジンのプレフィックスの集合で、Originヘッダーの値に対して
// 大文字小文字を区別した前方一致で判定する。Originヘッダーが無いリクエストは
// 常に拒否する。
package origin

import "strings"

// Guard はオリジンの許可リストを保持する。生成後は読み取り専用で、
// 並行利用に対して安全。
type Guard struct {
	// allowed は許可するオリジンのプレフィックス。先頭が正規オリジン。
	allowed []string
}

// NewGuard は許可リストからGuardを生成する。
// 空文字列のエントリは無視する。有効なエントリが1つも無い場合はnilを返す。
func NewGuard(allowed []string) *Guard {
	out := make([]string, 0, len(allowed))
	for _, a := range allowed {
		if a != "" {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return &Guard{allowed: out}
}

// IsAllowed はOriginヘッダーの値が許可リストのいずれかで始まるかを返す。
func (g *Guard) IsAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	for _, a := range g.allowed {
		if strings.HasPrefix(origin, a) {
			return true
		}
	}
	return false
}

// Resolve はCORSヘッダーに設定するオリジンを返す。
// 許可されたオリジンはそのまま返し、それ以外は正規オリジンを返す。
func (g *Guard) Resolve(origin string) string {
	if g.IsAllowed(origin) {
		return origin
	}
	return g.Canonical()
}

// Canonical は許可リストの先頭のオリジンを返す。
func (g *Guard) Canonical() string {
	return g.allowed[0]
}

// Allowed は許可リストのコピーを返す。
func (g *Guard) Allowed() []string {
	out := make([]string, len(g.allowed))
	copy(out, g.allowed)
	return out
}
