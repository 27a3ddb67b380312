package repository

import (
	"fmt"
	"strings"

	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/model"
)

// updateBuilder は部分更新用のUPDATE文を組み立てる。
// 列名は呼び出し側の定数のみを受け付け、値はすべてプレースホルダで束縛する。
// $1は常にキー列の値となる。
type updateBuilder struct {
	table     string
	keyColumn string
	sets      []string
	args      []any
}

func newUpdateBuilder(table, keyColumn string, key any) *updateBuilder {
	return &updateBuilder{
		table:     table,
		keyColumn: keyColumn,
		args:      []any{key},
	}
}

// set は (列, 値) の組を追加する。
func (b *updateBuilder) set(column string, value any) {
	b.args = append(b.args, value)
	b.sets = append(b.sets, fmt.Sprintf("%s = $%d", column, len(b.args)))
}

// build はUPDATE ... RETURNING 文と引数を返す。
// 更新列がない場合もキー列の自己代入で1ステートメントを保ち、
// 対象行が存在しなければ結果0行となる。
func (b *updateBuilder) build(returning string) (string, []any) {
	sets := b.sets
	if len(sets) == 0 {
		sets = []string{fmt.Sprintf("%s = %s", b.keyColumn, b.keyColumn)}
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $1 RETURNING %s",
		b.table, strings.Join(sets, ", "), b.keyColumn, returning)
	return query, b.args
}

// buildUserUpdate はUserPatchのうちSetなフィールドのみを書き込むUPDATE文を組み立てる。
func buildUserUpdate(p model.UserPatch) (string, []any) {
	b := newUpdateBuilder("users", "id", p.ID)

	if p.Name.Set {
		b.set("name", nullStringArg(p.Name.Value))
	}
	if p.Email.Set {
		// emailはNOT NULLのため、nullと空文字はどちらもNULLとして渡して拒否させる
		var email any
		if p.Email.Value != nil {
			email = requiredStringArg(*p.Email.Value)
		}
		b.set("email", email)
	}
	if p.EmailVerified.Set {
		b.set(`"emailVerified"`, nullTimestampArg(p.EmailVerified.Value))
	}
	if p.Image.Set {
		b.set("image", nullStringArg(p.Image.Value))
	}

	return b.build(userColumns)
}
