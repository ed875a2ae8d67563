package pipeline

import (
	"errors"

	"github.com/shouni/go-forecast-scraper/pkg/types"
)

// State は1回の実行における処理段階です。
// 遷移は Idle → Fetching → Parsing → Persisting → Done の一方向のみで、
// フェッチに失敗した場合は Parsing を飛ばして Persisting に進みます。
type State = types.State

const (
	StateIdle       = types.StateIdle
	StateFetching   = types.StateFetching
	StateParsing    = types.StateParsing
	StatePersisting = types.StatePersisting
	StateDone       = types.StateDone
)

// ErrInvalidTransition は許可されていない状態遷移を要求したことを表します。
var ErrInvalidTransition = errors.New("不正な状態遷移です")

// canTransition は許可された遷移かどうかを返します。
func canTransition(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StateFetching
	case StateFetching:
		return to == StateParsing || to == StatePersisting
	case StateParsing:
		return to == StatePersisting
	case StatePersisting:
		return to == StateDone
	default:
		return false
	}
}
